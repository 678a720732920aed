package main

import (
	"os"

	"github.com/small-frappuccino/productdock/pkg/app"
	"github.com/small-frappuccino/productdock/pkg/log"
)

// main is the entry point of the product panel bot.
func main() {
	if err := app.Run("productdock", "PRODUCTDOCK_TOKEN"); err != nil {
		log.ErrorLoggerRaw().Error("Fatal: " + err.Error())
		os.Exit(1)
	}
}
