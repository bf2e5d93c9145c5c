package main

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/studkg/cashier/internal/platform/finik"
)

const keycheckProbe = "post\n/v1/payment\nhost:api.acquiring.averspay.kg&x-api-key:probe&x-api-timestamp:0\n{}"

var errSelfCheck = errors.New("private key failed to verify its own signature")

func keycheckCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "keycheck",
		Short: "Check the merchant private key and the gateway public key",
		Long: `Loads FINIK_PRIVATE_KEY_PEM, signs a probe string and verifies it with the
public half derived from it, then prints that public key so it can be compared
with the key registered at Finik. The gateway key for FINIK_ENV is only parsed:
it belongs to a different key pair.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runKeycheck(cmd.OutOrStdout(), finik.OptionsFromConfig(cfg))
		},
	}
}

func runKeycheck(out io.Writer, opts finik.Options) error {
	env := opts.Env
	if env == "" {
		env = "prod"
	}
	fmt.Fprintf(out, "Environment: %s\n", env)

	priv, err := finik.LoadPrivateKey(opts.PrivateKeyPEM)
	if err != nil {
		fmt.Fprintf(out, "Private key: INVALID (%s)\n", err)
		return err
	}
	fmt.Fprintf(out, "Private key: OK (%d bits)\n", priv.N.BitLen())

	signer := finik.NewSigner(priv)
	sig, err := signer.Sign(keycheckProbe)
	if err != nil {
		return err
	}
	merchantPub := signer.PublicKey()
	if !finik.NewVerifier(merchantPub, nil).Verify(keycheckProbe, sig) {
		fmt.Fprintln(out, "Self-check:  FAILED")
		return errSelfCheck
	}
	fmt.Fprintln(out, "Self-check:  OK")

	der, err := x509.MarshalPKIXPublicKey(merchantPub)
	if err != nil {
		return fmt.Errorf("failed to encode merchant public key: %w", err)
	}
	fmt.Fprintf(out, "Merchant public key (register at Finik):\n%s",
		pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	gatewayPub, err := finik.LoadPublicKey(opts.PublicKeyPEM())
	if err != nil {
		fmt.Fprintf(out, "Gateway key: INVALID (%s)\n", err)
		return err
	}
	fmt.Fprintf(out, "Gateway key: OK (%d bits)\n", gatewayPub.N.BitLen())
	if gatewayPub.Equal(merchantPub) {
		fmt.Fprintln(out, "Warning: gateway key is the merchant's own public key")
	}
	return nil
}
