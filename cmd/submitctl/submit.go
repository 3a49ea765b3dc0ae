package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/upload-broker/internal/api/types"
	"github.com/bigkaa/goartstore/upload-broker/internal/coordinator"
)

// submitOutput — результат submit в stdout; годится как вход для notify-retry.
type submitOutput struct {
	SubmissionID string                     `json:"submissionId"`
	OrderID      string                     `json:"orderId"`
	Status       coordinator.Status         `json:"status"`
	Email        string                     `json:"email,omitempty"`
	Attachments  []types.UploadedAttachment `json:"attachments"`
	NotifyError  string                     `json:"notifyError,omitempty"`
}

func newSubmitCmd(opts *globalOptions) *cobra.Command {
	var (
		meta        types.SubmissionMetadata
		parallelism int
		maxSize     int64
	)

	cmd := &cobra.Command{
		Use:   "submit FILE...",
		Short: "Загрузить файлы и отправить submission",
		Long: `Загружает файлы по presigned PUT URL, сохраняет submission и,
если задан --email, отправляет уведомление и подтверждение.

Ошибка загрузки любого файла прерывает submission. Если файлы сохранены,
а уведомление не прошло, статус будет partial: повторите его командой
notify-retry с выводом этой команды.

Примеры:
  submitctl submit report.pdf --email student@example.com
  submitctl submit a.pdf b.docx --parallel 2 > result.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}

			files := make([]coordinator.File, 0, len(args))
			for _, path := range args {
				f, err := coordinator.FileFromPath(path)
				if err != nil {
					return err
				}
				files = append(files, f)
			}

			coord := coordinator.New(opts.client(logger), coordinator.Config{
				Parallelism: parallelism,
				MaxFileSize: maxSize,
			}, coordinator.Callbacks{
				OnStatus: func(s coordinator.Status) {
					fmt.Fprintf(cmd.ErrOrStderr(), "статус: %s\n", s)
				},
			}, logger)

			res, err := coord.SubmitDocuments(cmd.Context(), files, meta)
			if err != nil {
				return err
			}

			out := submitOutput{
				SubmissionID: res.SubmissionID,
				OrderID:      res.OrderID,
				Status:       res.Status,
				Email:        meta.Email,
				Attachments:  res.Attachments,
			}
			if res.NotifyErr != nil {
				out.NotifyError = res.NotifyErr.Error()
			}
			if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if res.Status == coordinator.StatusPartial {
				return fmt.Errorf("файлы сохранены, уведомление не отправлено: %w", res.NotifyErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&meta.Email, "email", "", "email для уведомления")
	cmd.Flags().StringVar(&meta.Notes, "notes", "", "комментарий к submission")
	cmd.Flags().StringVar(&meta.SubmissionID, "submission-id", "", "идентификатор submission (по умолчанию случайный UUID)")
	cmd.Flags().IntVar(&parallelism, "parallel", 1, "число одновременных загрузок")
	cmd.Flags().Int64Var(&maxSize, "max-size", envInt64("SUBMITCTL_MAX_SIZE", coordinator.DefaultMaxFileSize), "максимальный размер файла в байтах")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
