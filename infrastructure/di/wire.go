//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/NoriginMedia/nannoq-tools-sub001/infrastructure/config"
)

// InitializeContainer creates a fully wired container
func InitializeContainer(cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}
