// Package notify renders and delivers account emails.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Gateway sends verification and welcome mail. Failures are logged and
// reported as false, never returned.
type Gateway struct {
	renderer *Renderer
	sender   Sender
	locale   string
	codeTTL  time.Duration
}

func NewGateway(renderer *Renderer, sender Sender, locale string, codeTTL time.Duration) *Gateway {
	return &Gateway{renderer: renderer, sender: sender, locale: locale, codeTTL: codeTTL}
}

func (g *Gateway) SendVerificationEmail(ctx context.Context, email, code string) bool {
	mail, err := g.renderer.RenderVerification(ctx, g.locale, email, code, g.codeTTL)
	return g.deliver(ctx, KindVerification, email, mail, err)
}

func (g *Gateway) SendWelcomeEmail(ctx context.Context, email, password string) bool {
	mail, err := g.renderer.RenderWelcome(ctx, g.locale, email, password)
	return g.deliver(ctx, KindWelcome, email, mail, err)
}

func (g *Gateway) deliver(ctx context.Context, kind Kind, email string, mail Mail, renderErr error) bool {
	logger := zerolog.Ctx(ctx).With().Str("mail", string(kind)).Str("email", email).Logger()
	if renderErr != nil {
		logger.Error().Err(renderErr).Msg("render mail")
		return false
	}
	if err := g.sender.Send(ctx, mail); err != nil {
		logger.Error().Err(err).Msg("send mail")
		return false
	}
	logger.Debug().Msg("mail handed off")
	return true
}
