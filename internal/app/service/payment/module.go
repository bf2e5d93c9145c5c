package payment

import (
	"go.uber.org/fx"

	"github.com/studkg/cashier/internal/platform/finik"
)

func provideGateway(c *finik.Client) Gateway { return c }

var Module = fx.Options(
	fx.Provide(provideGateway, NewService),
)
