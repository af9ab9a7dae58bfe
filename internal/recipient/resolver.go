package recipient

import (
	"context"
	"fmt"
	"sort"

	"safetynotify/internal/channel"
	"safetynotify/internal/event"
	"safetynotify/pkg/logx"
)

// defaultRules is the fallback applied when a tenant's matrix yields no
// candidates at the event's severity, so no event goes silently unnotified.
var defaultRules = []MatrixRule{
	{Role: RoleAdmin, Channels: []channel.Channel{channel.Email, channel.Push}},
	{Role: RoleManager, Channels: []channel.Channel{channel.Email, channel.Push}},
}

// Resolver computes the deduplicated set of (person, channel-set) pairs to
// notify for one event.
type Resolver struct {
	dir Directory
	log logx.Logger
}

func NewResolver(dir Directory, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{dir: dir, log: log}
}

// Resolve applies the matrix, role expansion, chat-channel gating and
// dedup. The returned targets are ordered by recipient id for stable
// dispatch and test output.
func (r *Resolver) Resolve(ctx context.Context, ev event.Event) ([]Target, error) {
	sev := ev.EffectiveSeverity()

	rules, err := r.dir.MatrixRules(ctx, ev.Tenant)
	if err != nil {
		return nil, fmt.Errorf("matrix rules for %q: %w", ev.Tenant, err)
	}

	applicable := rules[:0:0]
	for _, rule := range rules {
		if sev >= rule.MinSeverity {
			applicable = append(applicable, rule)
		}
	}
	if len(applicable) == 0 {
		r.log.Warn("matrix empty at severity, using default roles",
			logx.String("tenant", ev.Tenant),
			logx.String("severity", sev.String()))
		applicable = defaultRules
	}

	byID := map[string]*Target{}
	channelSets := map[string]map[channel.Channel]bool{}

	for _, rule := range applicable {
		people, err := r.dir.PeopleByRole(ctx, ev.Tenant, rule.Role)
		if err != nil {
			return nil, fmt.Errorf("expand role %q: %w", rule.Role, err)
		}
		for _, p := range people {
			tgt, ok := byID[p.ID]
			if !ok {
				cp := p
				tgt = &Target{Recipient: cp}
				byID[p.ID] = tgt
				channelSets[p.ID] = map[channel.Channel]bool{}
			}
			for _, ch := range rule.Channels {
				if !ch.Valid() {
					continue
				}
				if suppressChat(ch, ev, tgt.Recipient) {
					continue
				}
				channelSets[p.ID][ch] = true
			}
		}
	}

	out := make([]Target, 0, len(byID))
	for id, tgt := range byID {
		set := channelSets[id]
		if len(set) == 0 {
			// Every channel gated away; the recipient is not a target.
			continue
		}
		chans := make([]channel.Channel, 0, len(set))
		for ch := range set {
			chans = append(chans, ch)
		}
		sort.Slice(chans, func(i, j int) bool { return chans[i] < chans[j] })
		tgt.Channels = chans
		out = append(out, *tgt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Recipient.ID < out[j].Recipient.ID })
	return out, nil
}

// suppressChat applies the noise-reduction gate: below the serious tier,
// chat channels stay quiet for everyone except a first aider on an
// injury event.
func suppressChat(ch channel.Channel, ev event.Event, rec Recipient) bool {
	return ch.IsChat() && !ChatAllowed(ev, rec)
}

// ChatAllowed reports whether chat channels are open for this recipient
// and event. Exported so direct-audience dispatches (escalation notices)
// apply the same gate as the matrix path.
func ChatAllowed(ev event.Event, rec Recipient) bool {
	if ev.EffectiveSeverity() >= event.SeveritySerious {
		return true
	}
	return ev.HasInjury && rec.HasRole(RoleFirstAider)
}
