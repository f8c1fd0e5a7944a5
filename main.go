package main

import (
	"flag"

	log "github.com/sirupsen/logrus"

	"github.com/bulletin/board/server"
)

func main() {
	configPath := flag.String("config", "", "optional config file with the users list")
	flag.Parse()

	if err := server.RunServer(*configPath); err != nil {
		log.Fatalf("Fatal error: %+v", err)
	}
}
