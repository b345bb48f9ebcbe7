package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/permitdesk/go-inbox-backend/internal/badge"
	"github.com/permitdesk/go-inbox-backend/internal/bus"
	"github.com/permitdesk/go-inbox-backend/internal/domain"
	"github.com/permitdesk/go-inbox-backend/internal/realtime"
	"github.com/permitdesk/go-inbox-backend/internal/repo"
	"github.com/permitdesk/go-inbox-backend/internal/services"
)

//
// Service stubs
//

type stubConvSvc struct {
	conv           *domain.Conversation
	getOrCreateErr error
	getErr         error
	lastAppID      string
}

func (s *stubConvSvc) GetOrCreate(ctx context.Context, applicationID string) (*domain.Conversation, error) {
	s.lastAppID = applicationID
	if s.getOrCreateErr != nil {
		return nil, s.getOrCreateErr
	}
	return s.conv, nil
}

func (s *stubConvSvc) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.conv, nil
}

type stubMsgSvc struct {
	mu sync.Mutex

	appended    *domain.Message
	appendErr   error
	lastContent string

	markedIDs      []string
	markedUser     string
	markCancelable bool
	markErr        error

	page    []domain.Message
	total   int64
	listErr error

	unread []repo.ConversationUnread

	statsCount int64
	statsTS    *time.Time
	statsErr   error
}

func (s *stubMsgSvc) Append(ctx context.Context, conversationID, senderID, content string) (*domain.Message, error) {
	s.mu.Lock()
	s.lastContent = content
	s.mu.Unlock()
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	return s.appended, nil
}

func (s *stubMsgSvc) MarkRead(ctx context.Context, messageIDs []string, userID string) error {
	s.mu.Lock()
	s.markedIDs = append([]string(nil), messageIDs...)
	s.markedUser = userID
	s.markCancelable = ctx.Done() != nil
	s.mu.Unlock()
	return s.markErr
}

func (s *stubMsgSvc) ListPage(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	if s.listErr != nil {
		return nil, 0, s.listErr
	}
	return s.page, s.total, nil
}

func (s *stubMsgSvc) UnreadByConversation(ctx context.Context, conversationIDs []string, userID string) ([]repo.ConversationUnread, error) {
	return s.unread, nil
}

func (s *stubMsgSvc) Stats(ctx context.Context, conversationID string) (int64, *time.Time, error) {
	return s.statsCount, s.statsTS, s.statsErr
}

func (s *stubMsgSvc) marked() ([]string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markedIDs, s.markedUser
}

func (s *stubMsgSvc) markWasCancelable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markCancelable
}

type stubNotifSvc struct {
	created    *domain.Notification
	notifyErr  error
	lastTarget string
	lastType   string
	lastTitle  string

	items   []domain.Notification
	listErr error

	markErr   error
	deleteErr error

	statsCount int64
	statsTS    *time.Time
	statsErr   error
}

func (s *stubNotifSvc) Notify(ctx context.Context, userID, typ, title string) (*domain.Notification, error) {
	s.lastTarget, s.lastType, s.lastTitle = userID, typ, title
	if s.notifyErr != nil {
		return nil, s.notifyErr
	}
	return s.created, nil
}

func (s *stubNotifSvc) ListUnread(ctx context.Context, userID string) ([]domain.Notification, error) {
	return s.items, s.listErr
}

func (s *stubNotifSvc) MarkRead(ctx context.Context, notificationID, userID string) error {
	return s.markErr
}

func (s *stubNotifSvc) Delete(ctx context.Context, notificationID, userID string) error {
	return s.deleteErr
}

func (s *stubNotifSvc) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	return s.statsCount, s.statsTS, s.statsErr
}

type stubScopeSvc struct {
	ids []string
	err error
}

func (s *stubScopeSvc) VisibleConversationIDs(ctx context.Context, userID, role string) ([]string, error) {
	return s.ids, s.err
}

// stubBadgeSource backs a real badge.Manager in handler tests.
type stubBadgeSource struct {
	mu     sync.Mutex
	convs  []string
	msgs   int64
	notifs int64
	err    error
}

func (s *stubBadgeSource) VisibleConversationIDs(ctx context.Context, userID, role string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.convs, nil
}

func (s *stubBadgeSource) TotalUnreadMessages(ctx context.Context, conversationIDs []string, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.msgs, nil
}

func (s *stubBadgeSource) UnreadNotifications(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.notifs, nil
}

//
// Harness
//

type fixture struct {
	conv   *stubConvSvc
	msg    *stubMsgSvc
	notif  *stubNotifSvc
	scope  *stubScopeSvc
	src    *stubBadgeSource
	broker *bus.Broker
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		conv:   &stubConvSvc{},
		msg:    &stubMsgSvc{},
		notif:  &stubNotifSvc{},
		scope:  &stubScopeSvc{ids: []string{}},
		src:    &stubBadgeSource{},
		broker: bus.NewBroker(zerolog.Nop()),
	}
	t.Cleanup(f.broker.Close)

	badges := badge.NewManager(f.src, f.broker, badge.Config{TTL: time.Minute}, zerolog.Nop())
	t.Cleanup(badges.Close)
	hub := realtime.NewHub(zerolog.Nop())
	t.Cleanup(hub.Close)

	h := New(f.conv, f.msg, f.notif, f.scope, badges, hub)

	r := gin.New()
	r.POST("/applications/:id/conversation", h.ResolveConversation)
	r.GET("/conversations", h.ListConversations)
	r.GET("/conversations/:id", h.GetConversation)
	r.GET("/conversations/:id/messages", h.ListMessages)
	r.POST("/conversations/:id/messages", h.PostMessage)
	r.POST("/messages/read", h.MarkMessagesRead)
	r.GET("/notifications", h.ListNotifications)
	r.POST("/notifications", h.PostNotification)
	r.PUT("/notifications/:id/read", h.MarkNotificationRead)
	r.DELETE("/notifications/:id", h.DeleteNotification)
	r.GET("/badge", h.GetBadge)
	f.router = r
	return f
}

func (f *fixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func asUser(id string) map[string]string {
	return map[string]string{"X-User-ID": id, "X-User-Role": "owner"}
}

//
// Conversations
//

func TestResolveConversation(t *testing.T) {
	f := newFixture(t)
	appID := uuid.NewString()
	f.conv.conv = &domain.Conversation{ID: uuid.NewString(), ApplicationID: appID}

	w := f.do(http.MethodPost, "/applications/"+appID+"/conversation", "", asUser("u1"))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp ConversationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Conversation.ApplicationID != appID || f.conv.lastAppID != appID {
		t.Fatalf("resp=%+v lastAppID=%s", resp.Conversation, f.conv.lastAppID)
	}
}

func TestResolveConversation_Errors(t *testing.T) {
	f := newFixture(t)
	appID := uuid.NewString()

	w := f.do(http.MethodPost, "/applications/not-a-uuid/conversation", "", asUser("u1"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: status=%d", w.Code)
	}

	f.conv.getOrCreateErr = services.ErrApplicationNotFound
	if w := f.do(http.MethodPost, "/applications/"+appID+"/conversation", "", asUser("u1")); w.Code != http.StatusNotFound {
		t.Fatalf("missing app: status=%d", w.Code)
	}

	f.conv.getOrCreateErr = services.ErrConflictUnresolved
	w = f.do(http.MethodPost, "/applications/"+appID+"/conversation", "", asUser("u1"))
	if w.Code != http.StatusConflict {
		t.Fatalf("unresolved race: status=%d", w.Code)
	}
	var envelope ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &envelope)
	if envelope.Code != ErrCodeConflict {
		t.Fatalf("envelope code=%q", envelope.Code)
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	f := newFixture(t)
	convID := uuid.NewString()
	f.scope.ids = []string{convID}
	f.conv.getErr = services.ErrConversationNotFound

	w := f.do(http.MethodGet, "/conversations/"+convID, "", asUser("u1"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestConversationEndpoints_HideOutOfScopeThreads(t *testing.T) {
	f := newFixture(t)
	convID := uuid.NewString()
	f.conv.conv = &domain.Conversation{ID: convID}
	f.msg.page = []domain.Message{{ID: "m1"}}
	f.msg.total = 1
	f.scope.ids = []string{uuid.NewString()}

	// A caller whose visible set does not contain the thread gets the same
	// 404 a missing thread would produce, on every per-conversation route.
	if w := f.do(http.MethodGet, "/conversations/"+convID, "", asUser("stranger")); w.Code != http.StatusNotFound {
		t.Fatalf("get: status=%d", w.Code)
	}
	w := f.do(http.MethodGet, "/conversations/"+convID+"/messages", "", asUser("stranger"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("list: status=%d", w.Code)
	}
	if etag := w.Header().Get("ETag"); etag != "" {
		t.Fatalf("denied list leaked ETag %q", etag)
	}
	if w := f.do(http.MethodGet, "/conversations/"+convID+"/messages", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous list: status=%d", w.Code)
	}

	if w := f.do(http.MethodPost, "/conversations/"+convID+"/messages", `{"content":"let me in"}`, asUser("stranger")); w.Code != http.StatusNotFound {
		t.Fatalf("post: status=%d", w.Code)
	}
	if f.msg.lastContent != "" {
		t.Fatalf("append reached service with %q", f.msg.lastContent)
	}

	// Admins bypass the visible-set lookup entirely.
	admin := map[string]string{"X-User-ID": "root", "X-User-Role": "admin"}
	if w := f.do(http.MethodGet, "/conversations/"+convID, "", admin); w.Code != http.StatusOK {
		t.Fatalf("admin get: status=%d", w.Code)
	}
	if w := f.do(http.MethodGet, "/conversations/"+convID+"/messages", "", admin); w.Code != http.StatusOK {
		t.Fatalf("admin list: status=%d", w.Code)
	}
}

func TestConversationEndpoints_ScopeLookupFailure(t *testing.T) {
	f := newFixture(t)
	f.scope.err = errors.New("directory down")

	if w := f.do(http.MethodGet, "/conversations/"+uuid.NewString()+"/messages", "", asUser("u1")); w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestListConversations_ScopeOrderWithUnread(t *testing.T) {
	f := newFixture(t)
	f.scope.ids = []string{"c2", "c1"}
	f.msg.unread = []repo.ConversationUnread{{ConversationID: "c1", Count: 3}}

	w := f.do(http.MethodGet, "/conversations", "", asUser("u1"))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp ListConversationsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Conversations) != 2 {
		t.Fatalf("items=%d", len(resp.Conversations))
	}
	// Scope order is preserved; zero-unread threads report zero.
	if resp.Conversations[0].ConversationID != "c2" || resp.Conversations[0].UnreadCount != 0 {
		t.Fatalf("first item: %+v", resp.Conversations[0])
	}
	if resp.Conversations[1].ConversationID != "c1" || resp.Conversations[1].UnreadCount != 3 {
		t.Fatalf("second item: %+v", resp.Conversations[1])
	}
}

func TestListConversations_RequiresIdentity(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodGet, "/conversations", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", w.Code)
	}
}

//
// Messages
//

func TestPostMessage_CreatedAndSanitized(t *testing.T) {
	f := newFixture(t)
	convID := uuid.NewString()
	f.scope.ids = []string{convID}
	f.msg.appended = &domain.Message{ID: uuid.NewString(), ConversationID: convID, Content: "line one\n\nline two"}

	body := `{"content":"line one\r\n\r\n\r\n\r\nline two  "}`
	w := f.do(http.MethodPost, "/conversations/"+convID+"/messages", body, asUser("u1"))
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if f.msg.lastContent != "line one\n\nline two" {
		t.Fatalf("sanitized content=%q", f.msg.lastContent)
	}
}

func TestPostMessage_Errors(t *testing.T) {
	f := newFixture(t)
	convID := uuid.NewString()
	f.scope.ids = []string{convID}

	if w := f.do(http.MethodPost, "/conversations/"+convID+"/messages", `{"content":"x"}`, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing identity: status=%d", w.Code)
	}
	if w := f.do(http.MethodPost, "/conversations/nope/messages", `{"content":"x"}`, asUser("u1")); w.Code != http.StatusBadRequest {
		t.Fatalf("bad conversation id: status=%d", w.Code)
	}
	if w := f.do(http.MethodPost, "/conversations/"+convID+"/messages", `{"content":"   "}`, asUser("u1")); w.Code != http.StatusBadRequest {
		t.Fatalf("blank content: status=%d", w.Code)
	}

	f.msg.appendErr = services.ErrConversationNotFound
	if w := f.do(http.MethodPost, "/conversations/"+convID+"/messages", `{"content":"x"}`, asUser("u1")); w.Code != http.StatusNotFound {
		t.Fatalf("missing conversation: status=%d", w.Code)
	}

	f.msg.appendErr = services.ErrTooLong
	if w := f.do(http.MethodPost, "/conversations/"+convID+"/messages", `{"content":"x"}`, asUser("u1")); w.Code != http.StatusBadRequest {
		t.Fatalf("too long: status=%d", w.Code)
	}
}

func TestPostMessage_FailedSendEchoesDraft(t *testing.T) {
	f := newFixture(t)
	convID := uuid.NewString()
	f.scope.ids = []string{convID}
	f.msg.appendErr = &services.SendError{Draft: "my drafted text", Err: errors.New("disk full")}

	w := f.do(http.MethodPost, "/conversations/"+convID+"/messages", `{"content":"my drafted text"}`, asUser("u1"))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var envelope ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Code != ErrCodeSendFailed || envelope.Draft != "my drafted text" {
		t.Fatalf("envelope=%+v", envelope)
	}
}

func TestListMessages_ETagRoundTrip(t *testing.T) {
	f := newFixture(t)
	convID := uuid.NewString()
	f.scope.ids = []string{convID}
	ts := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	f.msg.statsCount = 2
	f.msg.statsTS = &ts
	f.msg.page = []domain.Message{{ID: "m1"}, {ID: "m2"}}
	f.msg.total = 2

	w := f.do(http.MethodGet, "/conversations/"+convID+"/messages", "", asUser("u1"))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if etag == "" || !strings.HasPrefix(etag, `W/"messages:`) {
		t.Fatalf("etag=%q", etag)
	}

	// Same state + If-None-Match: 304 without a body.
	w = f.do(http.MethodGet, "/conversations/"+convID+"/messages", "", map[string]string{
		"X-User-ID": "u1", "If-None-Match": etag,
	})
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional status=%d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("304 must have no body, got %q", w.Body.String())
	}

	// State moved on: the old tag no longer matches.
	f.msg.statsCount = 3
	w = f.do(http.MethodGet, "/conversations/"+convID+"/messages", "", map[string]string{
		"X-User-ID": "u1", "If-None-Match": etag,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("stale tag status=%d", w.Code)
	}
}

func TestListMessages_PaginationEnvelope(t *testing.T) {
	f := newFixture(t)
	convID := uuid.NewString()
	f.scope.ids = []string{convID}
	f.msg.page = []domain.Message{{ID: "m1"}, {ID: "m2"}}
	f.msg.total = 5

	w := f.do(http.MethodGet, "/conversations/"+convID+"/messages?page=1&page_size=2", "", asUser("u1"))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ListMessagesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	p := resp.Pagination
	if p.Page != 1 || p.PageSize != 2 || p.Total != 5 || p.TotalPages != 3 || !p.HasNext {
		t.Fatalf("pagination=%+v", p)
	}
}

func TestMarkMessagesRead(t *testing.T) {
	f := newFixture(t)
	id1, id2 := uuid.NewString(), uuid.NewString()

	body := `{"message_ids":["` + id1 + `","` + id2 + `"]}`
	w := f.do(http.MethodPost, "/messages/read", body, asUser("u7"))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	ids, user := f.msg.marked()
	if len(ids) != 2 || user != "u7" {
		t.Fatalf("ids=%v user=%s", ids, user)
	}

	if w := f.do(http.MethodPost, "/messages/read", `{"message_ids":["nope"]}`, asUser("u7")); w.Code != http.StatusBadRequest {
		t.Fatalf("non-uuid id: status=%d", w.Code)
	}
	if w := f.do(http.MethodPost, "/messages/read", `{"message_ids":[]}`, asUser("u7")); w.Code != http.StatusBadRequest {
		t.Fatalf("empty list: status=%d", w.Code)
	}
}

//
// Notifications
//

func TestListNotifications_ETag(t *testing.T) {
	f := newFixture(t)
	ts := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	f.notif.statsCount = 1
	f.notif.statsTS = &ts
	f.notif.items = []domain.Notification{{ID: "n1", UserID: "u1"}}

	w := f.do(http.MethodGet, "/notifications", "", asUser("u1"))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"notifications:u1:`) {
		t.Fatalf("etag=%q", etag)
	}

	w = f.do(http.MethodGet, "/notifications", "", map[string]string{
		"X-User-ID": "u1", "If-None-Match": etag,
	})
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional status=%d", w.Code)
	}
}

func TestPostNotification_DefaultsTargetToCaller(t *testing.T) {
	f := newFixture(t)
	f.notif.created = &domain.Notification{ID: uuid.NewString(), UserID: "u1", Type: "deadline"}

	w := f.do(http.MethodPost, "/notifications", `{"type":"deadline"}`, asUser("u1"))
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if f.notif.lastTarget != "u1" || f.notif.lastType != "deadline" {
		t.Fatalf("target=%q type=%q", f.notif.lastTarget, f.notif.lastType)
	}

	// Explicit recipient wins over the caller.
	w = f.do(http.MethodPost, "/notifications", `{"user_id":"u9","type":"expert_assigned","title":"T"}`, asUser("u1"))
	if w.Code != http.StatusCreated || f.notif.lastTarget != "u9" {
		t.Fatalf("status=%d target=%q", w.Code, f.notif.lastTarget)
	}

	if w := f.do(http.MethodPost, "/notifications", `{"title":"no type"}`, asUser("u1")); w.Code != http.StatusBadRequest {
		t.Fatalf("missing type: status=%d", w.Code)
	}
}

func TestNotificationMutations_MapNotFound(t *testing.T) {
	f := newFixture(t)
	id := uuid.NewString()

	if w := f.do(http.MethodPut, "/notifications/"+id+"/read", "", asUser("u1")); w.Code != http.StatusNoContent {
		t.Fatalf("mark read: status=%d", w.Code)
	}
	if w := f.do(http.MethodDelete, "/notifications/"+id, "", asUser("u1")); w.Code != http.StatusNoContent {
		t.Fatalf("delete: status=%d", w.Code)
	}

	f.notif.markErr = services.ErrNotificationNotFound
	f.notif.deleteErr = services.ErrNotificationNotFound
	if w := f.do(http.MethodPut, "/notifications/"+id+"/read", "", asUser("u1")); w.Code != http.StatusNotFound {
		t.Fatalf("mark read missing: status=%d", w.Code)
	}
	if w := f.do(http.MethodDelete, "/notifications/"+id, "", asUser("u1")); w.Code != http.StatusNotFound {
		t.Fatalf("delete missing: status=%d", w.Code)
	}

	if w := f.do(http.MethodPut, "/notifications/nope/read", "", asUser("u1")); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: status=%d", w.Code)
	}
}

//
// Badge
//

func TestGetBadge(t *testing.T) {
	f := newFixture(t)
	f.src.convs = []string{"c1"}
	f.src.msgs = 4
	f.src.notifs = 1

	w := f.do(http.MethodGet, "/badge", "", asUser("u1"))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp BadgeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 5 {
		t.Fatalf("total=%d", resp.Total)
	}

	if w := f.do(http.MethodGet, "/badge", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing identity: status=%d", w.Code)
	}
}

func TestGetBadge_Unavailable(t *testing.T) {
	f := newFixture(t)
	f.src.err = errors.New("store down")

	w := f.do(http.MethodGet, "/badge", "", asUser("u1"))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var envelope ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &envelope)
	if envelope.Code != ErrCodeBadgeFailed {
		t.Fatalf("envelope code=%q", envelope.Code)
	}
}
