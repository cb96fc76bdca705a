package main

import (
	"fmt"
	"net/http"
)

func setupServer(config *Config, services *Services) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%s", config.Server.Port),
		Handler:      services.Gateway.Handler(),
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}
}
