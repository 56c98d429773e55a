// Package players resolves session user ids to display names and colors.
package players

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/thc1967/codex-quest-manager-sub000/cache"
	"github.com/thc1967/codex-quest-manager-sub000/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUnknownPlayer is returned for ids with no matching account.
	ErrUnknownPlayer = errors.New("players: unknown player")
	// ErrInvalidColor is returned by Update for colors other than #rrggbb.
	ErrInvalidColor = errors.New("players: color must be #rrggbb")
)

var colorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

const defaultColor = "#ffffff"

// Player is the public face of an account.
type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
}

// Directory looks players up through the cache, falling back to the
// accounts table.
type Directory struct {
	db     *gorm.DB
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewDirectory creates a Directory. A non-positive ttl defaults to ten
// minutes.
func NewDirectory(db *gorm.DB, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Directory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{db: db, cache: c, ttl: ttl, logger: logger}
}

func cacheKey(id string) string { return "player:" + id }

// Lookup returns the player with id.
func (d *Directory) Lookup(ctx context.Context, id string) (Player, error) {
	if fields, err := d.cache.HGetAll(ctx, cacheKey(id)); err == nil && len(fields) > 0 {
		return Player{ID: id, DisplayName: fields["name"], Color: fields["color"]}, nil
	} else if err != nil {
		d.logger.Warn("player cache read failed", zap.String("player", id), zap.Error(err))
	}

	accountID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Player{}, ErrUnknownPlayer
	}
	var acc model.Account
	err = d.db.WithContext(ctx).Select("id", "username", "display_name", "color").
		Where("id = ?", accountID).Take(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Player{}, ErrUnknownPlayer
	}
	if err != nil {
		return Player{}, fmt.Errorf("players: load %s: %w", id, err)
	}

	p := fromAccount(&acc)
	if err := d.cache.HSet(ctx, cacheKey(id), map[string]string{"name": p.DisplayName, "color": p.Color}); err == nil {
		_ = d.cache.Expire(ctx, cacheKey(id), d.ttl)
	}
	return p, nil
}

// Names resolves many ids at once. Unknown ids are left out.
func (d *Directory) Names(ctx context.Context, ids []string) (map[string]Player, error) {
	out := make(map[string]Player, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok || id == "" {
			continue
		}
		p, err := d.Lookup(ctx, id)
		if errors.Is(err, ErrUnknownPlayer) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

// Update changes the display name and color of a player and evicts the
// cached entry. Empty arguments are left unchanged.
func (d *Directory) Update(ctx context.Context, id, name, color string) (Player, error) {
	accountID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Player{}, ErrUnknownPlayer
	}
	if color != "" && !colorRe.MatchString(color) {
		return Player{}, ErrInvalidColor
	}
	updates := map[string]interface{}{}
	if name != "" {
		updates["display_name"] = name
	}
	if color != "" {
		updates["color"] = color
	}
	if len(updates) > 0 {
		res := d.db.WithContext(ctx).Model(&model.Account{}).Where("id = ?", accountID).Updates(updates)
		if res.Error != nil {
			return Player{}, fmt.Errorf("players: update %s: %w", id, res.Error)
		}
	}
	if err := d.cache.Del(ctx, cacheKey(id)); err != nil {
		d.logger.Warn("player cache evict failed", zap.String("player", id), zap.Error(err))
	}
	return d.Lookup(ctx, id)
}

func fromAccount(acc *model.Account) Player {
	p := Player{
		ID:          strconv.FormatInt(acc.ID, 10),
		DisplayName: acc.DisplayName,
		Color:       acc.Color,
	}
	if p.DisplayName == "" {
		p.DisplayName = acc.Username
	}
	if p.Color == "" {
		p.Color = defaultColor
	}
	return p
}
