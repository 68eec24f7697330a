package server

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/sirupsen/logrus"
)

var (
	ErrSelfDM          = errors.New("cannot create a direct message room with yourself")
	ErrInvalidUsername = errors.New("invalid username")
)

// dmNameSeparator joins the two usernames of a dm room name. Usernames may
// not contain it, so a name maps back to exactly one pair of users.
const dmNameSeparator = "_"

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.-]{0,31}$`)

// ValidUsername reports whether username may be registered: 1 to 32
// letters, digits, dots or hyphens, starting with a letter or digit.
func ValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// DMRoomName is the canonical name of the dm room between two users. It is
// the same whichever user is passed first.
func DMRoomName(a, b string) string {
	names := []string{a, b}
	sort.Strings(names)
	return names[0] + dmNameSeparator + names[1]
}

type RoomResolver struct {
	log logrus.FieldLogger
	db  database.ChatRepository
}

func NewRoomResolver(logger logrus.FieldLogger, db database.ChatRepository) *RoomResolver {
	return &RoomResolver{log: logger, db: db}
}

// ResolveOrCreateDM returns the dm room shared by initiator and target,
// creating it with both memberships on first use. A concurrent creation of
// the same room is resolved by re-reading the winner's row.
func (r *RoomResolver) ResolveOrCreateDM(ctx context.Context, initiator, target Session) (database.Room, error) {
	if initiator.UserId == target.UserId {
		return database.Room{}, ErrSelfDM
	}
	for _, username := range []string{initiator.Username, target.Username} {
		if strings.Contains(username, dmNameSeparator) {
			return database.Room{}, fmt.Errorf("%w: %q cannot be part of a dm room name", ErrInvalidUsername, username)
		}
	}

	// rooms created before names were canonical may use either order
	names := []string{
		initiator.Username + dmNameSeparator + target.Username,
		target.Username + dmNameSeparator + initiator.Username,
	}

	room, err := r.db.FindDMRoom(ctx, names...)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return database.Room{}, fmt.Errorf("find dm room: %w", err)
	}

	name := DMRoomName(initiator.Username, target.Username)
	room, err = r.db.CreateDMRoom(ctx, database.CreateDMRoomParams{
		Name:        name,
		Description: fmt.Sprintf("DM between %s and %s", initiator.Username, target.Username),
		CreatorId:   initiator.UserId,
		MemberIds:   [2]int{initiator.UserId, target.UserId},
	})
	if errors.Is(err, database.ErrDuplicate) {
		r.log.WithField("room", name).Info("dm room created concurrently, using existing room")
		room, err = r.db.FindDMRoom(ctx, names...)
		if err != nil {
			return database.Room{}, fmt.Errorf("re-read dm room %q: %w", name, err)
		}
		return room, nil
	}
	if err != nil {
		return database.Room{}, fmt.Errorf("create dm room %q: %w", name, err)
	}

	r.log.WithFields(logrus.Fields{
		"room_id": room.Id,
		"room":    room.Name,
	}).Info("created dm room")
	return room, nil
}
