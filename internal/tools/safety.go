package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// ErrBlocked marks an action the safety gate refused. The agent loop can
// distinguish a user veto from an execution failure with errors.Is.
var ErrBlocked = errors.New("action blocked by user")

// destructiveKeywords is the fixed vocabulary of actions that need a human
// yes before they run. The check is deterministic and code-level; the model
// is never asked to judge its own actions.
var destructiveKeywords = map[string]struct{}{
	"delete":   {},
	"remove":   {},
	"submit":   {},
	"payment":  {},
	"checkout": {},
	"confirm":  {},
	"purchase": {},
	"buy":      {},
	"order":    {},
	"spam":     {},
	"send":     {},
	"apply":    {},
	"trash":    {},
}

// IsDestructive reports whether the action description contains a
// destructive keyword. Tokens are split on whitespace and stripped of
// surrounding punctuation, then matched exactly: "Delete?" matches,
// "ordering" does not.
func IsDestructive(description string) bool {
	for _, token := range strings.Fields(strings.ToLower(description)) {
		token = strings.TrimFunc(token, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if _, ok := destructiveKeywords[token]; ok {
			return true
		}
	}
	return false
}

// Gate decides whether destructive actions may proceed. It sits inside the
// action tools, below the model, so no prompt can route around it.
type Gate struct {
	logger      *zap.Logger
	confirmer   schemas.Confirmer
	autoApprove bool
}

// NewGate creates a safety gate. A nil confirmer with auto-approve off
// refuses every destructive action.
func NewGate(logger *zap.Logger, confirmer schemas.Confirmer, autoApprove bool) *Gate {
	return &Gate{logger: logger.Named("safety"), confirmer: confirmer, autoApprove: autoApprove}
}

// Approve reports whether the described action may proceed. Non-destructive
// descriptions pass immediately. Destructive ones need the auto-approve
// override or an explicit yes from the confirmer; the Confirm call blocks
// the loop until the human answers.
func (g *Gate) Approve(ctx context.Context, description string) (bool, error) {
	if !IsDestructive(description) {
		return true, nil
	}
	if g.autoApprove {
		g.logger.Warn("Destructive action auto-approved", zap.String("action", description))
		return true, nil
	}
	if g.confirmer == nil {
		g.logger.Warn("Destructive action refused, no confirmation channel", zap.String("action", description))
		return false, nil
	}

	question := fmt.Sprintf("The agent wants to interact with: %s. Allow this action?", description)
	ok, err := g.confirmer.Confirm(ctx, question)
	if err != nil {
		return false, fmt.Errorf("confirmation prompt failed: %w", err)
	}
	if !ok {
		g.logger.Info("Destructive action declined by user", zap.String("action", description))
	}
	return ok, nil
}
