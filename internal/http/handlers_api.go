package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"budget/internal/app"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/store"
)

const defaultPredictionDays = 30

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(s.app.Store().State()).Write(w)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	st := s.app.Store()
	if r.URL.Query().Get("currency") == "" {
		NewJSONResponse().Body(st.State().Items).Write(w)
		return
	}
	code, err := ParseCurrencyParam(r.URL.Query(), "")
	if err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}
	NewJSONResponse().Body(st.ItemsInCurrency(code)).Write(w)
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("invalid request body").Write(w)
		return
	}
	item, err := ParseItem(p)
	if err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}

	added := s.app.Store().AddItem(ctx, item)
	applog.NewStructuredLogger(applog.FromContext(ctx)).
		LogItemChange(ctx, applog.OpCreate, added.ID, added.Category, added.Amount, added.Currency)

	// The index page posts a plain form; send the browser back to it.
	if p.IsForm() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(added).Write(w)
}

// handleUpdateItem replaces a record. Fields the client leaves out keep the
// values of the current record; ids the store does not know are still
// queued so the remote sees the update.
func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("invalid request body").Write(w)
		return
	}
	item, err := ParseItem(p)
	if err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}
	item.ID = id

	state := s.app.Store().State()
	existing, found := findItem(state.Items, id)
	if item.Date.IsZero() {
		if found {
			item.Date = existing.Date
		} else {
			item.Date = time.Now()
		}
	}
	if item.Currency == "" {
		if found && existing.Currency != "" {
			item.Currency = existing.Currency
		} else {
			item.Currency = state.Preferences.Currency
		}
	}
	if item.Category == "" {
		if found {
			item.Category = existing.Category
		} else {
			item.Category = core.DefaultCategory
		}
	}
	if !p.Has("description") && found {
		item.Description = existing.Description
	}

	s.app.Store().UpdateItem(ctx, item)
	applog.NewStructuredLogger(applog.FromContext(ctx)).
		LogItemChange(ctx, applog.OpUpdate, item.ID, item.Category, item.Amount, item.Currency)
	NewJSONResponse().Body(item).Write(w)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	s.app.Store().RemoveItem(ctx, id)
	applog.FromContext(ctx).InfoContext(ctx, "Expense record removed",
		applog.FieldOperation, applog.OpDelete, applog.FieldItemID, id)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleClearItems(w http.ResponseWriter, r *http.Request) {
	s.app.Store().ClearItems(r.Context())
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleSetBudgetCap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("invalid request body").Write(w)
		return
	}
	amount, err := ParseBudgetCap(p)
	if errors.Is(err, errEmptyBody) {
		BadRequestError("amount is required").Write(w)
		return
	}
	if err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}

	s.app.Store().SetBudgetCap(ctx, amount)
	NewJSONResponse().Body(map[string]float64{
		"budgetCap": s.app.Store().State().BudgetCap,
	}).Write(w)
}

type notificationsResponse struct {
	Notifications []core.Notification `json:"notifications"`
	Unread        int                 `json:"unread"`
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	list := s.app.Store().State().Notifications
	resp := notificationsResponse{Notifications: list}
	for _, n := range list {
		if !n.Read {
			resp.Unread++
		}
	}
	NewJSONResponse().Body(resp).Write(w)
}

func (s *Server) handleAddNotification(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("invalid request body").Write(w)
		return
	}
	in := store.NotificationInput{
		Title:   p.Get("title"),
		Message: p.Get("message"),
		Type:    core.NotificationType(p.Get("type")),
	}
	if in.Title == "" {
		UnprocessableEntityError(core.ErrEmptyTitle.Error()).Write(w)
		return
	}
	if in.Type != "" && !in.Type.Valid() {
		UnprocessableEntityError(core.ErrInvalidNotifType.Error()).Write(w)
		return
	}
	n := s.app.Store().AddNotification(r.Context(), in)
	NewJSONResponse().Status(http.StatusCreated).Body(n).Write(w)
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	s.app.Store().MarkNotificationAsRead(r.Context(), mux.Vars(r)["id"])
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	s.app.Store().ClearNotifications(r.Context())
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	patch, err := ParsePreferencesPatch(p)
	switch {
	case errors.Is(err, errEmptyBody):
		BadRequestError("empty preferences update").Write(w)
		return
	case errors.Is(err, core.ErrInvalidCurrency):
		UnprocessableEntityError(err.Error()).Write(w)
		return
	case err != nil:
		BadRequestError(err.Error()).Write(w)
		return
	}
	if msg := validatePreferencesPatch(patch); msg != "" {
		UnprocessableEntityError(msg).Write(w)
		return
	}

	prefs := s.app.Store().UpdatePreferences(r.Context(), patch)
	NewJSONResponse().Body(prefs).Write(w)
}

func validatePreferencesPatch(p core.PreferencesPatch) string {
	if p.Theme != nil {
		switch *p.Theme {
		case core.ThemeLight, core.ThemeDark, core.ThemeSystem:
		default:
			return "invalid theme " + strconv.Quote(string(*p.Theme))
		}
	}
	if p.FontSize != nil {
		switch *p.FontSize {
		case core.FontSmall, core.FontMedium, core.FontLarge:
		default:
			return "invalid font size " + strconv.Quote(string(*p.FontSize))
		}
	}
	return ""
}

type summaryResponse struct {
	Currency    string             `json:"currency"`
	Summary     core.Summary       `json:"summary"`
	Suggestion  core.Suggestion    `json:"suggestion"`
	Predictions map[string]float64 `json:"predictions"`
	Days        int                `json:"days"`
}

// handleSummary reports analytics in the requested currency. The budget
// cap is kept in the preferred currency and converted alongside the records.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	st := s.app.Store()
	state := st.State()
	pref := state.Preferences.Currency

	code, err := ParseCurrencyParam(r.URL.Query(), pref)
	if err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}
	days := defaultPredictionDays
	if v := strings.TrimSpace(r.URL.Query().Get("days")); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 1 || d > 366 {
			UnprocessableEntityError("days must be between 1 and 366").Write(w)
			return
		}
		days = d
	}

	items := st.ItemsInCurrency(code)
	budgetCap := core.Convert(core.DefaultRates, state.BudgetCap, pref, code)
	NewJSONResponse().Body(summaryResponse{
		Currency:    code,
		Summary:     core.Summarize(items, budgetCap),
		Suggestion:  core.Suggest(items, budgetCap),
		Predictions: core.Predict(items, days),
		Days:        days,
	}).Write(w)
}

func (s *Server) handleCurrencies(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(core.DefaultRates.Currencies()).Write(w)
}

type syncResponse struct {
	Outcome store.SyncOutcome `json:"outcome"`
	Synced  int               `json:"synced"`
	Pending int               `json:"pending"`
	Error   string            `json:"error,omitempty"`
}

// handleSync runs a sync now. A failed exchange is reported as 502; the
// queue is kept either way.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	st := s.app.Store()
	res := st.SyncData(r.Context())
	resp := syncResponse{
		Outcome: res.Outcome,
		Synced:  res.Synced,
		Pending: st.PendingCount(),
	}
	status := http.StatusOK
	if res.Outcome == store.SyncFailed {
		status = http.StatusBadGateway
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}
		applog.NewStructuredLogger(applog.FromContext(r.Context())).LogError(r.Context(),
			"Manual sync failed", res.Err, applog.ComponentSync, applog.OpSync,
			applog.LogFields{applog.FieldPending: resp.Pending})
	}
	NewJSONResponse().Status(status).Body(resp).Write(w)
}

type syncStatusResponse struct {
	Online         bool                 `json:"online"`
	IsSyncing      bool                 `json:"isSyncing"`
	LastSynced     *time.Time           `json:"lastSynced"`
	Pending        int                  `json:"pending"`
	PendingChanges []core.PendingChange `json:"pendingChanges"`
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	state := s.app.Store().State()
	NewJSONResponse().Body(syncStatusResponse{
		Online:         s.app.Online(),
		IsSyncing:      state.Sync.IsSyncing,
		LastSynced:     state.Sync.LastSynced,
		Pending:        len(state.Sync.PendingChanges),
		PendingChanges: state.Sync.PendingChanges,
	}).Write(w)
}

type updateStatusResponse struct {
	Available      bool   `json:"available"`
	ActiveVersion  string `json:"activeVersion,omitempty"`
	WaitingVersion string `json:"waitingVersion,omitempty"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	reg := s.app.Registration()
	resp := updateStatusResponse{Available: s.app.UpdateAvailable()}
	if active := reg.Active(); active != nil {
		resp.ActiveVersion = active.Version()
	}
	if waiting := reg.Waiting(); waiting != nil {
		resp.WaitingVersion = waiting.Version()
	}
	NewJSONResponse().Body(resp).Write(w)
}

func (s *Server) handleApplyUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := s.app.ApplyUpdate(ctx)
	if errors.Is(err, app.ErrNoUpdate) {
		ConflictError(err.Error()).Write(w)
		return
	}
	if err != nil {
		applog.NewStructuredLogger(applog.FromContext(ctx)).LogError(ctx,
			"Applying update failed", err, applog.ComponentCache, applog.OpActivate, nil)
		InternalServerError("failed to apply update").Write(w)
		return
	}
	NewJSONResponse().Status(http.StatusAccepted).Body(map[string]string{"status": "activating"}).Write(w)
}

func findItem(items []core.Item, id string) (core.Item, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return core.Item{}, false
}
