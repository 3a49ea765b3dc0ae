// submitctl — CLI клиента Upload Broker: загрузка файлов submission,
// повтор уведомления и получение ссылки на скачивание.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Ctrl-C отменяет текущий submission; завершённые PUT не откатываются
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
