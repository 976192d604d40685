// Package social resolves community-invite links found in server rule sets
// into guild metadata. Every failure here is swallowed: enrichment never
// affects the probe outcome.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"kestrel/internal/domain"
)

const (
	inviteCacheTTL = 3 * time.Hour
	inviteAPIBase  = "https://discordapp.com/api/invites/"
)

var invitePattern = regexp.MustCompile(`(?i)(?:discord\.gg|discord\.com/invite|discordapp\.com/invite)/([a-z0-9-]+)`)

// InferInvite extracts a community invite code from a server's advertised web
// URL, if it carries one.
func InferInvite(weburl string) (string, bool) {
	if weburl == "" {
		return "", false
	}
	match := invitePattern.FindStringSubmatch(weburl)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// GuildResolver looks up guilds behind invite codes, caching both hits and
// dead invites in Redis so repeat crawls do not hammer the API.
type GuildResolver struct {
	redis  *redis.Client
	client *http.Client
	token  string

	// One resolve in flight at a time; the invite API rate-limits hard.
	gate chan struct{}
}

func NewGuildResolver(redisClient *redis.Client, token string) *GuildResolver {
	return &GuildResolver{
		redis:  redisClient,
		client: &http.Client{Timeout: 3 * time.Second},
		token:  token,
		gate:   make(chan struct{}, 1),
	}
}

type inviteResponse struct {
	Guild struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Icon string `json:"icon"`
	} `json:"guild"`
}

// Resolve returns guild metadata for an invite code, or nil when the invite
// is unknown, dead, or any step fails.
func (g *GuildResolver) Resolve(ctx context.Context, inviteID string) *domain.GuildInfo {
	if cached := g.cachedGuild(ctx, inviteID); cached != nil {
		return cached
	}
	if dead, _ := g.redis.Get(ctx, "deadInvites:"+inviteID).Result(); dead != "" {
		return nil
	}

	select {
	case g.gate <- struct{}{}:
		defer func() { <-g.gate }()
	case <-ctx.Done():
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inviteAPIBase+url.PathEscape(inviteID), nil)
	if err != nil {
		return nil
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bot "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		log.Warn("failed to fetch guild invite", "invite", inviteID, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		if err := g.redis.Set(ctx, "deadInvites:"+inviteID, "true", 0).Err(); err != nil {
			log.Warn("failed to cache dead invite", "invite", inviteID, "error", err)
		}
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var invite inviteResponse
	if err := json.NewDecoder(resp.Body).Decode(&invite); err != nil {
		log.Warn("failed to decode guild invite", "invite", inviteID, "error", err)
		return nil
	}
	if invite.Guild.ID == "" {
		return nil
	}

	guild := &domain.GuildInfo{
		ID:   invite.Guild.ID,
		Name: invite.Guild.Name,
	}
	if invite.Guild.Icon != "" {
		ext := "png"
		if strings.HasPrefix(invite.Guild.Icon, "a_") {
			ext = "gif"
		}
		guild.Avatar = fmt.Sprintf("https://cdn.discordapp.com/icons/%s/%s.%s", invite.Guild.ID, invite.Guild.Icon, ext)
	}

	if encoded, err := json.Marshal(guild); err == nil {
		if err := g.redis.Set(ctx, "discordInvites:"+inviteID, encoded, inviteCacheTTL).Err(); err != nil {
			log.Warn("failed to cache guild invite", "invite", inviteID, "error", err)
		}
	}

	return guild
}

func (g *GuildResolver) cachedGuild(ctx context.Context, inviteID string) *domain.GuildInfo {
	raw, err := g.redis.Get(ctx, "discordInvites:"+inviteID).Result()
	if err != nil || raw == "" {
		return nil
	}
	var guild domain.GuildInfo
	if err := json.Unmarshal([]byte(raw), &guild); err != nil {
		return nil
	}
	return &guild
}
