package finik

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/studkg/cashier/pkg/config"
)

func OptionsFromConfig(cfg *config.Config) Options {
	f := cfg.Finik
	return Options{
		Env:                  f.Env,
		APIKey:               f.APIKey,
		AccountID:            f.AccountID,
		PrivateKeyPEM:        f.PrivateKeyPEM,
		PublicKeyProd:        f.PublicKeyProd,
		PublicKeyBeta:        f.PublicKeyBeta,
		RedirectURL:          f.RedirectURL,
		WebhookURL:           f.WebhookURL(),
		MerchantCategoryCode: f.MerchantCategoryCode,
		CardType:             f.CardType,
		BaseURL:              f.BaseURL,
		Timeout:              f.Timeout,
	}
}

// provideSigner fails startup on a malformed merchant key.
func provideSigner(opts Options) (*Signer, error) {
	return NewSignerFromPEM(opts.PrivateKeyPEM)
}

func provideVerifier(opts Options, log *zap.SugaredLogger) (*Verifier, error) {
	return NewVerifierFromPEM(opts.PublicKeyPEM(), log)
}

var Module = fx.Options(
	fx.Provide(
		OptionsFromConfig,
		provideSigner,
		provideVerifier,
		NewClient,
	),
)
