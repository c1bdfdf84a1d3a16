// Package router is the synchronization dispatcher: it applies each inbound
// room event to the state stores and fans the result out to room members.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"collabroom/internal/logging"
	"collabroom/internal/metrics"
	"collabroom/internal/presence"
	"collabroom/internal/room"
	"collabroom/internal/state"
	"collabroom/pkg/interfaces"
	"collabroom/pkg/types"
)

// DefaultPurgeThreshold purges room state once a departure leaves this many members or fewer
const DefaultPurgeThreshold = 1

// Dependencies are the collaborators a Router dispatches into.
// Nil stores get in-memory defaults; nil Verifier, Recorder and Metrics are skipped.
type Dependencies struct {
	Presence   *presence.Registry
	Membership *room.Membership
	Code       interfaces.CodeStore
	Canvas     interfaces.CanvasStore
	Cursors    interfaces.CursorStore
	Deliverer  interfaces.Deliverer
	Verifier   interfaces.ProfileVerifier
	Recorder   interfaces.ActivityRecorder
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Clock      clock.Clock
}

// Options tune room lifecycle and abuse limits
type Options struct {
	// PurgeThreshold drops room state when a departure leaves this many members or fewer.
	// Zero keeps state until the room empties.
	PurgeThreshold int

	// MaxEventsPerMinute caps inbound events per connection; zero disables the cap
	MaxEventsPerMinute int
}

// DefaultOptions returns the production room settings
func DefaultOptions() Options {
	return Options{PurgeThreshold: DefaultPurgeThreshold}
}

// Router owns every room store and is driven only from the hub goroutine.
// ARCHITECTURAL DISCOVERY: Single-goroutine dispatch makes each event atomic
// with respect to every other event, so stores carry no locks
type Router struct {
	presence    *presence.Registry
	membership  *room.Membership
	code        interfaces.CodeStore
	canvas      interfaces.CanvasStore
	cursors     interfaces.CursorStore
	deliverer   interfaces.Deliverer
	verifier    interfaces.ProfileVerifier
	recorder    interfaces.ActivityRecorder
	metrics     *metrics.Metrics
	logger      *slog.Logger
	clock       clock.Clock
	rateLimiter *RateLimiter

	purgeThreshold int
	handlers       map[string]func(connID string, data json.RawMessage) error
}

// New creates a dispatcher over deps
func New(deps Dependencies, opts Options) *Router {
	if deps.Presence == nil {
		deps.Presence = presence.NewRegistry()
	}
	if deps.Membership == nil {
		deps.Membership = room.NewMembership(deps.Presence)
	}
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if deps.Code == nil {
		deps.Code = state.NewCodeStore()
	}
	if deps.Canvas == nil {
		deps.Canvas = state.NewCanvasStore()
	}
	if deps.Cursors == nil {
		deps.Cursors = state.NewCursorStore(deps.Clock)
	}
	if opts.PurgeThreshold < 0 {
		opts.PurgeThreshold = 0
	}

	r := &Router{
		presence:       deps.Presence,
		membership:     deps.Membership,
		code:           deps.Code,
		canvas:         deps.Canvas,
		cursors:        deps.Cursors,
		deliverer:      deps.Deliverer,
		verifier:       deps.Verifier,
		recorder:       deps.Recorder,
		metrics:        deps.Metrics,
		logger:         logging.OrDefault(deps.Logger),
		clock:          deps.Clock,
		rateLimiter:    NewRateLimiter(opts.MaxEventsPerMinute, deps.Clock),
		purgeThreshold: opts.PurgeThreshold,
	}

	r.handlers = map[string]func(string, json.RawMessage) error{
		types.EventJoin:            r.handleJoin,
		types.EventLeave:           r.handleLeave,
		types.EventCodeChange:      r.handleCodeChange,
		types.EventSyncCode:        r.handleSyncCode,
		types.EventCursorPosition:  r.handleCursorPosition,
		types.EventCursorSelection: r.handleCursorSelection,
		types.EventCanvasDraw:      r.handleCanvasDraw,
		types.EventCanvasState:     r.handleCanvasState,
		types.EventCanvasClear:     r.handleCanvasClear,
		types.EventCanvasUndo:      r.handleCanvasUndo,
		types.EventCanvasRedo:      r.handleCanvasRedo,
	}
	return r
}

// Dispatch applies one inbound event from connID.
// The returned error only explains why nothing happened; callers log it and move on.
func (r *Router) Dispatch(ctx context.Context, connID string, env *types.Envelope) error {
	if env == nil {
		return types.ErrMalformedPayload
	}

	handler, ok := r.handlers[env.Type]
	if !ok {
		r.metrics.EventHandled("unknown", metrics.OutcomeUnknown)
		return ErrUnknownEvent
	}

	if !r.rateLimiter.Allow(connID) {
		r.metrics.EventHandled(env.Type, metrics.OutcomeRateLimited)
		return ErrRateLimitExceeded
	}

	err := handler(connID, env.Data)
	r.metrics.EventHandled(env.Type, outcomeOf(err))
	return err
}

// Disconnect removes connID from every room and forgets its identity
func (r *Router) Disconnect(connID string) {
	name := r.presence.DisplayName(connID)
	remaining := r.membership.Leave(connID)

	for _, roomID := range sortedKeys(remaining) {
		r.depart(connID, name, roomID, remaining[roomID])
	}

	r.presence.Unregister(connID)
	r.rateLimiter.Forget(connID)
	r.metrics.SetActiveRooms(len(r.membership.Rooms()))
}

// RoomSummaries lists every active room
func (r *Router) RoomSummaries() []types.RoomSummary {
	rooms := r.membership.Rooms()
	summaries := make([]types.RoomSummary, 0, len(rooms))
	for _, roomID := range rooms {
		summaries = append(summaries, types.RoomSummary{
			RoomID:      roomID,
			MemberCount: r.membership.Count(roomID),
		})
	}
	return summaries
}

// RoomDetail describes the synchronized state of one active room
func (r *Router) RoomDetail(roomID string) (*types.RoomDetail, bool) {
	if r.membership.Count(roomID) == 0 {
		return nil, false
	}

	detail := &types.RoomDetail{
		RoomID:     roomID,
		Members:    r.membership.ListMembers(roomID),
		CanvasStep: -1,
		Cursors:    len(r.cursors.Snapshot(roomID)),
	}
	if code, ok := r.code.Get(roomID); ok {
		detail.HasCode = true
		detail.CodeLength = len(code)
	}
	if canvas, ok := r.canvas.Get(roomID); ok {
		detail.CanvasEntries = len(canvas.History)
		detail.CanvasStep = canvas.Step
	}
	return detail, true
}

// handleJoin registers the joiner, replays room state to it, then announces it.
// FUNCTIONAL DISCOVERY: Catch-up frames are queued before the joined broadcast,
// so the newcomer sees current state before any live event
func (r *Router) handleJoin(connID string, data json.RawMessage) error {
	var payload types.JoinPayload
	if err := types.Decode(data, &payload); err != nil {
		return err
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	profile := r.resolveProfile(connID, &payload)
	name := types.ResolveDisplayName(payload.Username, profile)
	r.presence.Register(connID, name, profile)

	members, opened := r.membership.Join(connID, payload.RoomID)
	if opened {
		r.record(types.ActivityRoomOpened, payload.RoomID, connID, name, len(members))
		r.metrics.SetActiveRooms(len(r.membership.Rooms()))
	}
	r.record(types.ActivityMemberJoined, payload.RoomID, connID, name, len(members))

	if canvas, ok := r.canvas.Get(payload.RoomID); ok {
		r.deliver(connID, types.EventCanvasState, canvasFrame(canvas, types.CanvasKindState))
	}
	if code, ok := r.code.Get(payload.RoomID); ok {
		r.deliver(connID, types.EventCodeChange, map[string]string{"code": code})
	}
	if cursors := r.cursors.Snapshot(payload.RoomID); len(cursors) > 0 {
		r.deliver(connID, types.EventCursorStates, cursors)
	}

	identity, _ := r.presence.Get(connID)
	r.broadcast(r.membership.MemberIDs(payload.RoomID), types.EventJoined, map[string]interface{}{
		"clients":      members,
		"username":     name,
		"connectionId": connID,
		"userProfile":  identity.Profile,
	})
	return nil
}

// resolveProfile prefers a verified identity token over the client-supplied profile
func (r *Router) resolveProfile(connID string, payload *types.JoinPayload) *types.Profile {
	if payload.Token == "" || r.verifier == nil {
		return payload.UserProfile
	}
	profile, err := r.verifier.Verify(payload.Token)
	if err != nil {
		r.logger.Debug("identity token rejected", "connection_id", connID, "error", err)
		return payload.UserProfile
	}
	return profile
}

func (r *Router) handleLeave(connID string, data json.RawMessage) error {
	var payload types.RoomPayload
	if err := decodeRoom(data, &payload, &payload.RoomID); err != nil {
		return err
	}

	remaining, ok := r.membership.LeaveRoom(connID, payload.RoomID)
	if !ok {
		return ErrNotMember
	}
	r.depart(connID, r.presence.DisplayName(connID), payload.RoomID, remaining)
	r.metrics.SetActiveRooms(len(r.membership.Rooms()))
	return nil
}

func (r *Router) handleCodeChange(connID string, data json.RawMessage) error {
	var payload types.CodeChangePayload
	if err := decodeRoom(data, &payload, &payload.RoomID); err != nil {
		return err
	}
	if payload.Code == nil {
		return types.ErrMalformedPayload
	}
	if !r.membership.IsMember(payload.RoomID, connID) {
		return ErrNotMember
	}

	code := r.code.Set(payload.RoomID, *payload.Code)
	r.broadcast(r.membership.OtherMemberIDs(payload.RoomID, connID), types.EventCodeChange, map[string]string{"code": code})
	return nil
}

// handleSyncCode hands the sender's text to one named member, usually a late joiner
func (r *Router) handleSyncCode(connID string, data json.RawMessage) error {
	var payload types.SyncCodePayload
	if err := decodeRoom(data, &payload, &payload.RoomID); err != nil {
		return err
	}
	if payload.Code == nil || payload.ConnectionID == "" {
		return types.ErrMalformedPayload
	}
	if !r.membership.IsMember(payload.RoomID, connID) {
		return ErrNotMember
	}
	if !r.membership.IsMember(payload.RoomID, payload.ConnectionID) {
		return ErrTargetNotMember
	}

	r.deliver(payload.ConnectionID, types.EventCodeChange, map[string]string{"code": *payload.Code})
	return nil
}

func (r *Router) handleCursorPosition(connID string, data json.RawMessage) error {
	var payload types.CursorPositionPayload
	if err := decodeRoom(data, &payload, &payload.RoomID); err != nil {
		return err
	}
	if payload.Position == nil {
		return types.ErrMalformedPayload
	}
	if !r.membership.IsMember(payload.RoomID, connID) {
		return ErrNotMember
	}

	entry := r.cursors.UpsertPosition(payload.RoomID, connID, r.presence.DisplayName(connID), *payload.Position, payload.Selection)
	r.broadcast(r.membership.OtherMemberIDs(payload.RoomID, connID), types.EventCursorPosition, map[string]interface{}{
		"connectionId": connID,
		"username":     entry.Username,
		"position":     entry.Position,
		"selection":    entry.Selection,
	})
	return nil
}

func (r *Router) handleCursorSelection(connID string, data json.RawMessage) error {
	var payload types.CursorSelectionPayload
	if err := decodeRoom(data, &payload, &payload.RoomID); err != nil {
		return err
	}
	if !r.membership.IsMember(payload.RoomID, connID) {
		return ErrNotMember
	}

	entry, ok := r.cursors.UpsertSelection(payload.RoomID, connID, payload.Selection)
	if !ok {
		return ErrNoCursor
	}
	r.broadcast(r.membership.OtherMemberIDs(payload.RoomID, connID), types.EventCursorSelection, map[string]interface{}{
		"connectionId": connID,
		"username":     entry.Username,
		"selection":    entry.Selection,
	})
	return nil
}

// handleCanvasDraw relays an opaque stroke without touching the history
func (r *Router) handleCanvasDraw(connID string, data json.RawMessage) error {
	roomID, stroke, err := types.DecodeStroke(data)
	if err != nil {
		return err
	}
	if !r.membership.IsMember(roomID, connID) {
		return ErrNotMember
	}

	r.broadcast(r.membership.OtherMemberIDs(roomID, connID), types.EventCanvasDraw, stroke)
	return nil
}

func (r *Router) handleCanvasState(connID string, data json.RawMessage) error {
	decoded, err := types.DecodeCanvasState(data)
	if err != nil {
		return err
	}

	switch payload := decoded.(type) {
	case *types.StructuredCanvasState:
		if !r.membership.IsMember(payload.RoomID, connID) {
			return ErrNotMember
		}
		r.canvas.Replace(payload.RoomID, payload.History, payload.Step)
		canvas, _ := r.canvas.Get(payload.RoomID)
		r.broadcast(r.membership.OtherMemberIDs(payload.RoomID, connID), types.EventCanvasState, canvasFrame(canvas, payload.Kind))

	case *types.LegacyCanvasState:
		if !r.membership.IsMember(payload.RoomID, connID) {
			return ErrNotMember
		}
		r.canvas.Push(payload.RoomID, payload.Image)
		canvas, _ := r.canvas.Get(payload.RoomID)
		frame := canvasFrame(canvas, types.CanvasKindPush)
		frame["imgData"] = payload.Image
		r.broadcast(r.membership.OtherMemberIDs(payload.RoomID, connID), types.EventCanvasState, frame)

	default:
		return types.ErrMalformedPayload
	}
	return nil
}

func (r *Router) handleCanvasClear(connID string, data json.RawMessage) error {
	var payload types.RoomPayload
	if err := decodeRoom(data, &payload, &payload.RoomID); err != nil {
		return err
	}
	if !r.membership.IsMember(payload.RoomID, connID) {
		return ErrNotMember
	}

	r.canvas.Delete(payload.RoomID)
	r.broadcast(r.membership.OtherMemberIDs(payload.RoomID, connID), types.EventCanvasClear, struct{}{})
	return nil
}

func (r *Router) handleCanvasUndo(connID string, data json.RawMessage) error {
	return r.moveCanvas(connID, data, types.CanvasKindUndo)
}

func (r *Router) handleCanvasRedo(connID string, data json.RawMessage) error {
	return r.moveCanvas(connID, data, types.CanvasKindRedo)
}

// moveCanvas steps the shared history and shows the result to every member, sender included
func (r *Router) moveCanvas(connID string, data json.RawMessage, kind string) error {
	var payload types.RoomPayload
	if err := decodeRoom(data, &payload, &payload.RoomID); err != nil {
		return err
	}
	if !r.membership.IsMember(payload.RoomID, connID) {
		return ErrNotMember
	}

	var moved bool
	if kind == types.CanvasKindUndo {
		_, _, moved = r.canvas.Undo(payload.RoomID)
		if !moved {
			return ErrNothingToUndo
		}
	} else {
		_, _, moved = r.canvas.Redo(payload.RoomID)
		if !moved {
			return ErrNothingToRedo
		}
	}

	canvas, _ := r.canvas.Get(payload.RoomID)
	r.broadcast(r.membership.MemberIDs(payload.RoomID), types.EventCanvasState, canvasFrame(canvas, kind))
	return nil
}

// depart finishes removing connID from roomID after membership was updated.
// ARCHITECTURAL DISCOVERY: Purge runs before the departure broadcast so that
// nothing a remaining member reads afterwards can resurrect stale state
func (r *Router) depart(connID, name, roomID string, remaining int) {
	r.cursors.Remove(roomID, connID)
	r.record(types.ActivityMemberLeft, roomID, connID, name, remaining)

	if remaining <= r.purgeThreshold {
		r.code.Delete(roomID)
		r.canvas.Delete(roomID)
		r.cursors.Delete(roomID)
		r.metrics.RoomPurged()

		if remaining == 0 {
			r.record(types.ActivityRoomClosed, roomID, connID, name, 0)
		} else {
			r.record(types.ActivityRoomPurged, roomID, connID, name, remaining)
		}
	}

	if remaining == 0 {
		return
	}

	departed := map[string]string{"connectionId": connID, "username": name}
	others := r.membership.MemberIDs(roomID)
	r.broadcast(others, types.EventDisconnected, departed)
	r.broadcast(others, types.EventCursorLeave, departed)
}

func (r *Router) deliver(connID, event string, data interface{}) {
	if r.deliverer == nil {
		return
	}
	if err := r.deliverer.Deliver(connID, &types.Outbound{Type: event, Data: data}); err != nil {
		r.logger.Debug("delivery skipped", "connection_id", connID, "event", event, "error", err)
	}
}

func (r *Router) broadcast(connIDs []string, event string, data interface{}) {
	if r.deliverer == nil || len(connIDs) == 0 {
		return
	}
	r.deliverer.Broadcast(connIDs, &types.Outbound{Type: event, Data: data})
}

// record hands a lifecycle record to the journal; ids are assigned server-side
func (r *Router) record(kind, roomID, connID, name string, memberCount int) {
	if r.recorder == nil {
		return
	}
	r.recorder.RecordActivity(&types.Activity{
		ID:           uuid.NewString(),
		RoomID:       roomID,
		Kind:         kind,
		ConnectionID: connID,
		DisplayName:  name,
		MemberCount:  memberCount,
		OccurredAt:   r.clock.Now().UTC(),
	})
}

func canvasFrame(canvas *types.CanvasState, kind string) map[string]interface{} {
	history := canvas.History
	if history == nil {
		history = []string{}
	}
	return map[string]interface{}{
		"history": history,
		"step":    canvas.Step,
		"kind":    kind,
	}
}

// decodeRoom decodes a payload that must name a room
func decodeRoom(data json.RawMessage, v interface{}, roomID *string) error {
	if err := types.Decode(data, v); err != nil {
		return err
	}
	if *roomID == "" {
		return types.ErrMissingRoomID
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, types.ErrMalformedPayload),
		errors.Is(err, types.ErrMissingRoomID),
		errors.Is(err, types.ErrInvalidRoomID):
		return metrics.OutcomeMalformed
	case errors.Is(err, ErrNotMember), errors.Is(err, ErrTargetNotMember):
		return metrics.OutcomeNotMember
	default:
		return metrics.OutcomeNoop
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
