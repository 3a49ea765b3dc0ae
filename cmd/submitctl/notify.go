package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/upload-broker/internal/coordinator"
)

func newNotifyRetryCmd(opts *globalOptions) *cobra.Command {
	var (
		from    string
		orderID string
		email   string
	)

	cmd := &cobra.Command{
		Use:   "notify-retry",
		Short: "Повторить уведомление для сохранённого submission",
		Long: `Повторяет notify и receipt без повторной загрузки файлов.
Вложения берутся из вывода submit (--from).

Пример:
  submitctl notify-retry --from result.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(from) //nolint:gosec // G304: путь задан пользователем
			if err != nil {
				return fmt.Errorf("чтение %s: %w", from, err)
			}
			var prev submitOutput
			if err := json.Unmarshal(data, &prev); err != nil {
				return fmt.Errorf("разбор %s: %w", from, err)
			}
			if orderID == "" {
				orderID = prev.OrderID
			}
			if email == "" {
				email = prev.Email
			}
			if orderID == "" || email == "" {
				return errors.New("нужны orderId и email (--order-id, --email или поля в --from)")
			}

			coord := coordinator.New(opts.client(logger), coordinator.Config{}, coordinator.Callbacks{}, logger)
			res, err := coord.RetryNotify(cmd.Context(), orderID, email, prev.Attachments)
			if err != nil {
				return err
			}

			prev.OrderID = orderID
			prev.Email = email
			prev.Status = res.Status
			prev.NotifyError = ""
			if res.NotifyErr != nil {
				prev.NotifyError = res.NotifyErr.Error()
			}
			if err := writeJSON(cmd.OutOrStdout(), prev); err != nil {
				return err
			}
			if res.Status != coordinator.StatusSuccess {
				return fmt.Errorf("уведомление не отправлено: %w", res.NotifyErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "JSON-вывод команды submit")
	cmd.Flags().StringVar(&orderID, "order-id", "", "orderId (переопределяет --from)")
	cmd.Flags().StringVar(&email, "email", "", "email (переопределяет --from)")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}
