// Package main is the entry point for the compliance RAG service.
//
// Run without arguments to serve the HTTP API, or use the build and ask
// subcommands for one-shot use from a terminal.
package main

import (
	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/compliance-rag/cmd/rag/app"
)

func main() {
	// .env 为可选文件，缺失时使用进程环境变量
	_ = godotenv.Load()

	app.NewApp().Run()
}
