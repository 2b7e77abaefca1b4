package main

import (
	"chrome-agent/internal/bootstrap"
)

func main() {
	app := bootstrap.NewApp()
	app.Run()
}
