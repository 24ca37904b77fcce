package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// main 是 SpriteForge 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "spriteforged 运行失败: %v\n", err)
		stop()
		os.Exit(1)
	}
}
