package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/upload-broker/internal/coordinator"
)

func newURLCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "url KEY",
		Short: "Получить ссылку на скачивание проверенного объекта",
		Long: `Запрашивает presigned GET URL. Ссылка выдаётся только после
чистого антивирусного вердикта; пока сканирование идёт, команда
завершается с ошибкой "scan in progress".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			coord := coordinator.New(opts.client(logger), coordinator.Config{}, coordinator.Callbacks{}, logger)

			url, err := coord.DownloadURL(cmd.Context(), args[0])
			if errors.Is(err, coordinator.ErrScanPending) {
				return fmt.Errorf("%w, повторите позже", err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
}
