package driver

import (
	"context"

	"github.com/lance13c/portalpilot/internal/faults"
	"github.com/lance13c/portalpilot/internal/target"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

func (d *Driver) login(ctx context.Context, p *Plan, step PlannedStep) error {
	switch d.target.AuthMode {
	case target.AuthForm:
		if _, ok := d.target.LoginPage(); ok {
			return d.formLogin(ctx, step)
		}
	case target.AuthAPIKey:
		if err := d.setHeader(ctx, d.target.APIKeyHeader, p.creds.APIKey); err != nil {
			return err
		}
	case target.AuthDelegated:
		if err := d.delegatedLogin(ctx, p); err != nil {
			return err
		}
	case target.AuthNone:
	default:
		return &faults.Error{Kind: faults.InvalidConfiguration, Message: "unknown auth mode " + string(d.target.AuthMode)}
	}

	if p.probe {
		return d.load(ctx, d.loginURL(step))
	}
	return nil
}

func (d *Driver) loginURL(step PlannedStep) string {
	if d.target.LoginURL != "" {
		return d.target.LoginURL
	}
	if u, err := resolveURL(d.target.BaseURL, step.Page.URLPattern); err == nil {
		return u
	}
	return d.target.BaseURL
}

func (d *Driver) formLogin(ctx context.Context, step PlannedStep) error {
	if err := d.load(ctx, d.loginURL(step)); err != nil {
		return err
	}
	if err := d.fill(ctx, step); err != nil {
		return err
	}
	return d.submitAndClassify(ctx, step)
}

func (d *Driver) setHeader(ctx context.Context, name, value string) error {
	if err := d.session.SetExtraHeaders(ctx, map[string]string{name: value}); err != nil {
		return d.classify(err, nil)
	}
	d.logf("session header %s set", name)
	return nil
}

// delegatedLogin exchanges client credentials for a bearer token
func (d *Driver) delegatedLogin(ctx context.Context, p *Plan) error {
	cfg := clientcredentials.Config{
		ClientID:     p.creds.ClientID,
		ClientSecret: p.creds.ClientSecret,
		TokenURL:     p.creds.TokenURL,
		Scopes:       p.creds.Scopes,
	}
	if d.opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, d.opts.HTTPClient)
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return faults.Wrap(faults.SessionError, err, "delegated token request failed")
	}
	d.logf("obtained delegated token (expires %s)", tok.Expiry.Format("15:04:05"))
	return d.setHeader(ctx, "Authorization", tok.Type()+" "+tok.AccessToken)
}
