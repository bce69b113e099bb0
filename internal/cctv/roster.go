package cctv

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"statusbot/internal/util"
)

type Member struct {
	Name     string
	Online   bool
	LoginAt  time.Time
	LogoutAt time.Time
}

// Session is a completed login period. LoginAt is zero when the logout was
// seen without a preceding login.
type Session struct {
	Name     string
	LoginAt  time.Time
	LogoutAt time.Time
}

// Roster tracks which members are logged in to the surveillance server.
type Roster struct {
	clock clock.Clock

	mu      sync.RWMutex
	members map[string]*Member
}

func NewRoster(clk clock.Clock) *Roster {
	if clk == nil {
		clk = clock.New()
	}
	return &Roster{clock: clk, members: make(map[string]*Member)}
}

// Apply records ev and returns the finished session for a logout.
func (r *Roster) Apply(ev Event) (Session, bool) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	member, ok := r.members[ev.Name]
	if !ok {
		member = &Member{Name: ev.Name}
		r.members[ev.Name] = member
	}

	switch ev.Direction {
	case In:
		member.Online = true
		member.LoginAt = now
		return Session{}, false
	case Out:
		loginAt := member.LoginAt
		if !member.Online {
			loginAt = time.Time{}
		}
		member.Online = false
		member.LogoutAt = now
		return Session{Name: member.Name, LoginAt: loginAt, LogoutAt: now}, true
	default:
		return Session{}, false
	}
}

// Online returns the members currently logged in, ordered by name.
func (r *Roster) Online() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, 0, len(r.members))
	for _, member := range r.members {
		if member.Online {
			out = append(out, *member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func FormatSession(s Session) string {
	return fmt.Sprintf(
		"\U0001F4F8 <b>%s</b> CCTV Login Time:\n[%s] %s - %s",
		util.HTMLEscape(util.Capitalize(s.Name)),
		s.LogoutAt.Format("02/01/06"),
		clockTime(s.LoginAt),
		clockTime(s.LogoutAt),
	)
}

func FormatOnline(members []Member) string {
	if len(members) == 0 {
		return "\U0001F4F9 No CCTV users online."
	}
	var sb strings.Builder
	sb.WriteString("\U0001F4F9 <b>Online CCTV Users</b>\n")
	for _, member := range members {
		fmt.Fprintf(&sb, "%s - %s\n", util.HTMLEscape(util.Capitalize(member.Name)), clockTime(member.LoginAt))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func clockTime(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.Format("15:04:05")
}
