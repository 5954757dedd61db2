package main

import (
	"context"
	"log"

	"github.com/mikenoired/synapse-sub000/internal/client"
	"github.com/mikenoired/synapse-sub000/internal/client/config"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := client.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)
}
