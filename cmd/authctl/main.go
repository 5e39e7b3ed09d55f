package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/fastauth/internal/authctl"
	"github.com/dmitrijs2005/fastauth/internal/server/config"
)

func main() {

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: authctl <register|reclaim|help> [flags]")
		os.Exit(2)
	}
	command := os.Args[1]

	cfg, err := config.LoadConfig(os.Args[2:])
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()
	app, err := authctl.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	err = app.Run(ctx, command)
	_ = app.Close()
	if err != nil {
		log.Fatalf("%v", err)
	}

}
