package calendar

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caltrigger-io/caltrigger/internal/cache"
	"github.com/caltrigger-io/caltrigger/internal/domain"
)

// StatusFilterAll disables status filtering: bookings of every status pass.
const StatusFilterAll = "ALL"

// agentCacheTTL bounds how stale a cached agent credential read may be.
const agentCacheTTL = 30 * time.Second

type Fetcher interface {
	FetchBookings(ctx context.Context, creds Credentials) ([]domain.Booking, error)
}

type AgentSource interface {
	GetAgentByID(ctx context.Context, id uuid.UUID) (domain.Agent, error)
}

// Resolver turns a trigger or agent scope into the list of bookings it
// applies to, applying the meeting-id, status, and time filters in order.
type Resolver struct {
	fetcher Fetcher
	agents  AgentSource
	cache   *cache.TTL[domain.Agent]
}

func NewResolver(fetcher Fetcher, agents AgentSource, clock func() time.Time) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		agents:  agents,
		cache:   cache.New[domain.Agent](agentCacheTTL, clock),
	}
}

// InvalidateAgent drops the cached credentials for one agent, e.g. after an
// operator updates them.
func (r *Resolver) InvalidateAgent(id uuid.UUID) {
	r.cache.Invalidate(id.String())
}

// ResolveForTrigger resolves the bookings a trigger applies to. A calendar
// or event_type scope narrows the agent's bookings to the referenced
// meeting identifier.
func (r *Resolver) ResolveForTrigger(ctx context.Context, trigger domain.Trigger, statusFilter string, now time.Time) ([]domain.Booking, error) {
	meetingID := ""
	if trigger.ScopeType != domain.ScopeTypeAgent && trigger.ScopeReference != "" {
		meetingID = trigger.ScopeReference
	}
	return r.ResolveForAgent(ctx, trigger.AgentID, meetingID, statusFilter, now)
}

// ResolveForAgent fetches and filters the agent's bookings. An empty
// meetingID falls back to the identifier configured on the agent, if any.
func (r *Resolver) ResolveForAgent(ctx context.Context, agentID uuid.UUID, meetingID, statusFilter string, now time.Time) ([]domain.Booking, error) {
	agent, err := r.agent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.CalendarAPIKey == "" {
		return nil, fmt.Errorf("agent %s has no calendar credentials configured", agentID)
	}

	bookings, err := r.fetcher.FetchBookings(ctx, Credentials{
		APIKey:     agent.CalendarAPIKey,
		APIVersion: agent.CalendarAPIVersion,
	})
	if err != nil {
		return nil, err
	}

	if meetingID == "" {
		meetingID = agent.MeetingID
	}

	bookings = FilterByMeetingID(bookings, meetingID)
	bookings = FilterByStatus(bookings, statusFilter)
	bookings = FilterUpcoming(bookings, now)
	return bookings, nil
}

func (r *Resolver) agent(ctx context.Context, id uuid.UUID) (domain.Agent, error) {
	if a, ok := r.cache.Get(id.String()); ok {
		return a, nil
	}
	a, err := r.agents.GetAgentByID(ctx, id)
	if err != nil {
		return domain.Agent{}, err
	}
	r.cache.Set(id.String(), a)
	return a, nil
}

// FilterByMeetingID keeps bookings whose uid, numeric id, event-type id, or
// metadata calendar id matches the identifier, case-insensitively and with
// surrounding whitespace ignored. An empty identifier keeps everything.
func FilterByMeetingID(bookings []domain.Booking, meetingID string) []domain.Booking {
	want := strings.ToLower(strings.TrimSpace(meetingID))
	if want == "" {
		return bookings
	}

	out := bookings[:0:0]
	for _, b := range bookings {
		candidates := []string{
			b.UID,
			strconv.FormatInt(b.ID, 10),
			strconv.FormatInt(b.EventTypeID, 10),
			b.CalendarID,
		}
		for _, c := range candidates {
			if strings.ToLower(strings.TrimSpace(c)) == want {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

// FilterByStatus keeps bookings whose status matches case-insensitively.
// The filter "ALL" (or empty) keeps everything.
func FilterByStatus(bookings []domain.Booking, statusFilter string) []domain.Booking {
	if statusFilter == "" || strings.EqualFold(statusFilter, StatusFilterAll) {
		return bookings
	}

	out := bookings[:0:0]
	for _, b := range bookings {
		if strings.EqualFold(b.Status, statusFilter) {
			out = append(out, b)
		}
	}
	return out
}

// FilterUpcoming drops bookings that verifiably started in the past.
// Bookings with no start value or an unparseable one are kept.
func FilterUpcoming(bookings []domain.Booking, now time.Time) []domain.Booking {
	out := bookings[:0:0]
	for _, b := range bookings {
		if b.Start != nil && b.Start.Before(now) {
			continue
		}
		out = append(out, b)
	}
	return out
}
