package service

import (
	"context"
	"sync"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/exchange"
	"github.com/yndnr/ksefbridge-go/internal/exchange/auth"
	"github.com/yndnr/ksefbridge-go/internal/exchange/session"
)

// ExchangeAPI is the part of the Exchange client the services use.
type ExchangeAPI interface {
	auth.API
	session.API
	GetInvoice(ctx context.Context, accessToken, exchangeNumber string) ([]byte, error)
	QueryMetadata(ctx context.Context, accessToken string, filters *exchange.QueryFilters, pageOffset, pageSize int) (*exchange.QueryResponse, error)
}

// KeySource resolves Exchange encryption keys. *certs.Store implements it.
type KeySource interface {
	auth.KeySource
	session.KeySource
}

// ExchangeResolver returns the client of an environment.
type ExchangeResolver interface {
	Exchange(env domain.Environment) (ExchangeAPI, error)
	DefaultEnvironment() domain.Environment
}

// ExchangeFactory builds the client of an environment on first use.
type ExchangeFactory func(env domain.Environment) (ExchangeAPI, error)

// Exchanges caches one client per environment.
type Exchanges struct {
	def     domain.Environment
	factory ExchangeFactory

	mu      sync.Mutex
	clients map[domain.Environment]ExchangeAPI
}

// NewExchanges creates a resolver whose default environment is def.
func NewExchanges(def domain.Environment, factory ExchangeFactory) *Exchanges {
	return &Exchanges{
		def:     def,
		factory: factory,
		clients: make(map[domain.Environment]ExchangeAPI),
	}
}

// SingleExchange serves api for every environment.
func SingleExchange(api ExchangeAPI) *Exchanges {
	return NewExchanges(api.Environment(), func(domain.Environment) (ExchangeAPI, error) {
		return api, nil
	})
}

// DefaultEnvironment is used for credentials without an environment.
func (e *Exchanges) DefaultEnvironment() domain.Environment {
	return e.def
}

// Exchange returns the cached client for env, building it if needed.
func (e *Exchanges) Exchange(env domain.Environment) (ExchangeAPI, error) {
	if env == "" {
		env = e.def
	}
	if !env.Valid() {
		return nil, domain.ErrInvalidArgument.WithDetails("unknown environment " + string(env))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if api, ok := e.clients[env]; ok {
		return api, nil
	}
	api, err := e.factory(env)
	if err != nil {
		return nil, err
	}
	e.clients[env] = api
	return api, nil
}
