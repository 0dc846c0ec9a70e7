package chi

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/oriade/ragserve/internal/domain"
	healthuc "github.com/oriade/ragserve/internal/usecase/health"
)

// Pipeline runs the answering pipeline for one authenticated query.
type Pipeline interface {
	Answer(ctx context.Context, credential string, q domain.Query) (domain.Answer, error)
}

// LoginProvider issues tokens for the local credential strategy. Nil when the
// service runs against a remote identity provider.
type LoginProvider interface {
	Login(username, password string) (string, error)
}

// Exchanger drives the authorization-code flow for the remote strategy. Nil
// in local mode.
type Exchanger interface {
	AuthCodeURL() string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// HealthChecker aggregates component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
