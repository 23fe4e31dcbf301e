/*
artifact.go - Artifact binding: render, hash, store

PURPOSE:
  Turns a note into its distributable artifact and the tamper-evidence
  that goes with it: render bytes via the external renderer, compute a
  SHA-256 content hash, store the bytes, and hand back the (ref, hash)
  pair for persistence on the note row.

TRIGGER DISCIPLINE:
  Rendering happens on Create (best effort), on Issue (mandatory) and on
  an authorized regenerate - NEVER as a side effect of a read. A silent
  re-render on GET would overwrite the stored hash and destroy the
  tamper-evidence guarantee.

DETERMINISM:
  The renderer contract is that an unchanged note renders to identical
  bytes, so binding twice yields the same hash. Verify exploits this:
  re-render, re-hash, compare against the hash recorded at issuance.

SEE ALSO:
  - store.go: Renderer and ArtifactStore interfaces
  - lifecycle.go: The only place binding is triggered
*/
package notes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// BINDER
// =============================================================================

// Binder renders, hashes and stores note artifacts.
type Binder struct {
	Renderer  Renderer
	Artifacts ArtifactStore
}

func NewBinder(r Renderer, s ArtifactStore) *Binder {
	return &Binder{Renderer: r, Artifacts: s}
}

// Bind renders the note, hashes the bytes, stores them, and returns the
// (ref, hash) pair. A renderer failure surfaces as a RenderError and leaves
// nothing stored; the caller decides whether that blocks the operation.
func (b *Binder) Bind(ctx context.Context, n *Note) (ref, hash string, err error) {
	content, err := b.Renderer.Render(ctx, n)
	if err != nil {
		return "", "", &RenderError{NoteID: n.ID, Err: err}
	}

	sum := sha256.Sum256(content)
	hash = hex.EncodeToString(sum[:])
	ref = ArtifactRef(n)

	if err := b.Artifacts.PutArtifact(ctx, Artifact{
		NoteID:  n.ID,
		Ref:     ref,
		Hash:    hash,
		Content: content,
	}); err != nil {
		return "", "", fmt.Errorf("failed to store artifact for %s: %w", n.ID, err)
	}
	return ref, hash, nil
}

// Verify re-renders the note and compares the fresh hash with the one
// recorded on the note at issuance. It stores nothing.
func (b *Binder) Verify(ctx context.Context, n *Note) (bool, string, error) {
	content, err := b.Renderer.Render(ctx, n)
	if err != nil {
		return false, "", &RenderError{NoteID: n.ID, Err: err}
	}
	sum := sha256.Sum256(content)
	fresh := hex.EncodeToString(sum[:])
	return fresh == n.ArtifactHash, fresh, nil
}

// ArtifactRef derives the note-addressed storage reference. Document
// numbers contain slashes, which do not survive as path segments.
func ArtifactRef(n *Note) string {
	return "artifacts/" + strings.ReplaceAll(n.DocumentNumber, "/", "-") + ".txt"
}

// =============================================================================
// TEXT RENDERER - deterministic development/test renderer
// =============================================================================

// TextRenderer renders a note as a fixed-order plain-text account statement.
// The production renderer is an external system; this one exists so the
// engine runs end to end in development and tests. Output depends only on
// note content - no timestamps, no randomness - so hashes are reproducible.
type TextRenderer struct{}

func (TextRenderer) Render(_ context.Context, n *Note) ([]byte, error) {
	if n.DocumentNumber == "" {
		return nil, fmt.Errorf("note %s has no document number", n.ID)
	}

	var sb strings.Builder
	kind := "CREDIT NOTE"
	if n.Type == TypeDebitNote {
		kind = "DEBIT NOTE"
	}
	fmt.Fprintf(&sb, "%s %s\n", kind, n.DocumentNumber)
	fmt.Fprintf(&sb, "client: %s\npolicy: %s\n", n.ClientID, n.PolicyID)
	if n.InsurerID != "" {
		fmt.Fprintf(&sb, "insurer: %s\n", n.InsurerID)
	}
	fmt.Fprintf(&sb, "gross premium: %s\n", n.GrossPremium.StringFixed(2))
	fmt.Fprintf(&sb, "brokerage (%s%%): %s\n", n.BrokeragePct.String(), n.Breakdown.BrokerageAmount.StringFixed(2))
	fmt.Fprintf(&sb, "vat on brokerage (%s%%): %s\n", n.VatPct.String(), n.Breakdown.VatOnBrokerage.StringFixed(2))
	fmt.Fprintf(&sb, "agent commission (%s%%): %s\n", n.AgentCommissionPct.String(), n.Breakdown.AgentCommissionAmount.StringFixed(2))
	fmt.Fprintf(&sb, "net brokerage: %s\n", n.Breakdown.NetBrokerage.StringFixed(2))
	fmt.Fprintf(&sb, "levies: niacom %s, ncrib %s, ed tax %s, total %s\n",
		n.Levies.Niacom.StringFixed(2), n.Levies.Ncrib.StringFixed(2),
		n.Levies.EdTax.StringFixed(2), n.Breakdown.TotalLevies.StringFixed(2))

	if n.CoInsured() {
		sb.WriteString("co-insurance:\n")
		shares := append([]CoInsuranceShare(nil), n.Shares...)
		// Render order is by insurer id, never by storage order.
		sort.SliceStable(shares, func(i, j int) bool { return shares[i].InsurerID < shares[j].InsurerID })
		for _, s := range shares {
			fmt.Fprintf(&sb, "  %s: %s%% = %s\n", s.InsurerID, s.Percentage.String(), s.Amount.StringFixed(2))
		}
	}

	fmt.Fprintf(&sb, "net amount due: %s\n", n.Breakdown.NetAmountDue.StringFixed(2))
	if n.Narration != "" {
		fmt.Fprintf(&sb, "narration: %s\n", n.Narration)
	}
	fmt.Fprintf(&sb, "prepared by: %s\n", n.PreparedBy)
	if n.AuthorizedBy != "" {
		fmt.Fprintf(&sb, "authorized by: %s\n", n.AuthorizedBy)
	}
	return []byte(sb.String()), nil
}

// =============================================================================
// LOG DISPATCHER - development stand-in transport
// =============================================================================

// LogDispatcher records dispatch attempts in the log and reports them
// delivered. The production transport (mail gateway, portal upload) plugs
// in behind the same interface.
type LogDispatcher struct {
	Log *zap.SugaredLogger
}

func (d LogDispatcher) Dispatch(_ context.Context, n *Note, a *Artifact, recipients []string) (DispatchResult, error) {
	if d.Log != nil {
		d.Log.Infow("dispatching artifact",
			"note_id", n.ID, "ref", a.Ref, "recipients", recipients)
	}
	return DispatchResult{
		Recipients: recipients,
		Delivered:  true,
		Detail:     fmt.Sprintf("logged delivery of %s to %d recipient(s)", a.Ref, len(recipients)),
	}, nil
}
