package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/studkg/cashier/internal/platform/finik"
)

type canonicalFlags struct {
	method  string
	path    string
	headers []string
	query   []string
	body    string
}

func canonicalCmd(load configLoader) *cobra.Command {
	f := &canonicalFlags{}
	cmd := &cobra.Command{
		Use:   "canonical",
		Short: "Print the canonical string a request is signed over",
		Long: `Prints the canonical string for the given request. When FINIK_PRIVATE_KEY_PEM
is configured the merchant signature over it is printed as well.`,
		Example: `  finikctl canonical --method POST --path /v1/payment \
    --header Host=api.acquiring.averspay.kg --header x-api-key=KEY --header x-api-timestamp=1700000000000 \
    --body '{"Amount":1000}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			s, err := req.String()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, s)
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Finik.PrivateKeyPEM == "" {
				return nil
			}
			signer, err := finik.NewSignerFromPEM(cfg.Finik.PrivateKeyPEM)
			if err != nil {
				return err
			}
			sig, err := signer.Sign(s)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nsignature: %s\n", sig)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.method, "method", "POST", "HTTP method")
	cmd.Flags().StringVar(&f.path, "path", "/v1/payment", "Absolute request path")
	cmd.Flags().StringArrayVar(&f.headers, "header", nil, "Header as name=value, repeatable")
	cmd.Flags().StringArrayVar(&f.query, "query", nil, "Query parameter as name=value, repeatable")
	cmd.Flags().StringVar(&f.body, "body", "", "JSON body")
	return cmd
}

func (f *canonicalFlags) request() (*finik.CanonicalRequest, error) {
	req := &finik.CanonicalRequest{Method: f.method, Path: f.path, Headers: map[string]string{}}
	for _, h := range f.headers {
		k, v, ok := strings.Cut(h, "=")
		if !ok {
			return nil, fmt.Errorf("header %q: want name=value", h)
		}
		req.Headers[k] = v
	}
	if len(f.query) > 0 {
		req.Query = map[string][]string{}
		for _, q := range f.query {
			k, v, ok := strings.Cut(q, "=")
			if !ok {
				return nil, fmt.Errorf("query %q: want name=value", q)
			}
			req.Query[k] = append(req.Query[k], v)
		}
	}
	body, err := finik.DecodeBody([]byte(f.body))
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	req.Body = body
	return req, nil
}
