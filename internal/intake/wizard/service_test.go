package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/sidra/sidra/internal/domain/forms"
	"github.com/sidra/sidra/internal/intake/schema"
	"github.com/sidra/sidra/internal/intake/selection"
	"github.com/sidra/sidra/internal/platform/auth"
	"github.com/sidra/sidra/internal/platform/metrics"
)

type serviceFixture struct {
	svc     *Service
	store   *MemoryStore
	records *fakeRecords
	lists   *fakeLists
}

func newServiceFixture() *serviceFixture {
	fx := &serviceFixture{
		store:   NewMemoryStore(time.Hour),
		records: newFakeRecords(),
		lists:   newFakeLists(),
	}
	fx.svc = NewService(schema.Default(), fx.store, fx.records, fx.lists, zerolog.Nop())
	return fx
}

// asUser returns a context carrying the caller id, as the auth middleware
// sets it.
func asUser(id string) context.Context {
	return context.WithValue(context.Background(), auth.UserIDKey, id)
}

func fieldView(t *testing.T, v *View, name string) FieldView {
	t.Helper()
	for _, f := range v.Section.Fields {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("field %s not in view of %s", name, v.Section.Name)
	return FieldView{}
}

// completeFirstStep fills structureInfo through the service and moves on.
func completeFirstStep(t *testing.T, fx *serviceFixture, id string) {
	t.Helper()
	ctx := asUser("u")
	if _, err := fx.svc.Update(ctx, id, forms.SectionStructureInfo, validStructureInfo()); err != nil {
		t.Fatalf("update: %v", err)
	}
	for _, sel := range []struct {
		id int
		on bool
	}{{1, true}, {2, false}, {-1, false}} {
		if _, err := fx.svc.Select(ctx, id, forms.SectionStructureInfo, "originOfDemandSetUuidOriginOfDemands", sel.id, sel.on); err != nil {
			t.Fatalf("select: %v", err)
		}
	}
	v, err := fx.svc.Next(ctx, id)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !v.Move.Moved {
		t.Fatalf("expected to leave step 1, errors: %+v", v.Move.Errors)
	}
}

func TestService_OpenCreateFetchesFirstStepLists(t *testing.T) {
	fx := newServiceFixture()
	v, err := fx.svc.Open(context.Background(), "user-1", ModeCreate, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v.CurrentStep != 1 || v.TotalSteps != 6 || v.Progress != 0 {
		t.Errorf("unexpected position %d/%d %v", v.CurrentStep, v.TotalSteps, v.Progress)
	}
	fv := fieldView(t, v, "originOfDemandSetUuidOriginOfDemands")
	if fv.Status != selection.Ready || len(fv.Options) != 3 {
		t.Errorf("origin group = %s with %d options", fv.Status, len(fv.Options))
	}
	for _, o := range fv.Options {
		if o.Selected != nil {
			t.Errorf("option %d should start unanswered", o.ID)
		}
	}
	if fx.lists.calls["entourage-types"] != 0 {
		t.Error("later steps should not be fetched on open")
	}
}

func TestService_EditWithoutRecord(t *testing.T) {
	fx := newServiceFixture()
	if _, err := fx.svc.Open(context.Background(), "u", ModeEdit, nil); !errors.Is(err, ErrEditWithoutRecord) {
		t.Errorf("expected ErrEditWithoutRecord, got %v", err)
	}
	missing := uuid.New()
	if _, err := fx.svc.Open(context.Background(), "u", ModeEdit, &missing); !errors.Is(err, forms.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_NavigationFetchesEnteredStep(t *testing.T) {
	fx := newServiceFixture()
	ctx := asUser("u")
	v, _ := fx.svc.Open(ctx, "u", ModeCreate, nil)

	refused, err := fx.svc.Next(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if refused.Move.Moved || !refused.ShowValidationError || len(refused.Errors) == 0 {
		t.Fatalf("expected refusal with errors, got %+v", refused.Move)
	}

	completeFirstStep(t, fx, v.ID)
	if _, err := fx.svc.Update(ctx, v.ID, forms.SectionTobaccoAlcohol, map[string]any{"tobaccoConsumption": 2}); err != nil {
		t.Fatal(err)
	}
	at3, err := fx.svc.Next(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if at3.CurrentStep != 3 || at3.Progress != 40 {
		t.Errorf("step %d progress %v, want 3 and 40", at3.CurrentStep, at3.Progress)
	}
	if fx.lists.calls["entourage-types"] != 1 {
		t.Errorf("entourage list fetched %d times, want 1", fx.lists.calls["entourage-types"])
	}

	back, err := fx.svc.GoTo(ctx, v.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if back.CurrentStep != 1 {
		t.Errorf("expected step 1, got %d", back.CurrentStep)
	}
	if fieldView(t, back, "patientId").Value != "P-0001" {
		t.Error("going back must keep entered values")
	}
}

func TestService_DegradedListAndRetry(t *testing.T) {
	fx := newServiceFixture()
	ctx := asUser("u")
	fx.lists.setFail("origins-of-demand", true)

	v, err := fx.svc.Open(ctx, "u", ModeCreate, nil)
	if err != nil {
		t.Fatal(err)
	}
	if fieldView(t, v, "originOfDemandSetUuidOriginOfDemands").Status != selection.Degraded {
		t.Fatal("expected degraded group")
	}
	if _, err := fx.svc.Update(ctx, v.ID, forms.SectionStructureInfo, validStructureInfo()); err != nil {
		t.Fatal(err)
	}
	blocked, _ := fx.svc.Next(ctx, v.ID)
	if blocked.Move.Moved {
		t.Fatal("a degraded required group must block the step")
	}
	if msg := fieldView(t, blocked, "originOfDemandSetUuidOriginOfDemands").Error; msg != "liste indisponible, réessayez" {
		t.Errorf("error = %q", msg)
	}

	fx.lists.setFail("origins-of-demand", false)
	retried, err := fx.svc.Retry(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fieldView(t, retried, "originOfDemandSetUuidOriginOfDemands").Status != selection.Ready {
		t.Error("expected ready group after retry")
	}
}

func TestService_SubmitFailureThenSuccess(t *testing.T) {
	fx := newServiceFixture()
	ctx := asUser("u")
	v, _ := fx.svc.Open(ctx, "u", ModeCreate, nil)

	if _, err := fx.svc.Submit(ctx, v.ID); !errors.Is(err, ErrNotFinalStep) {
		t.Fatalf("expected ErrNotFinalStep, got %v", err)
	}

	completeFirstStep(t, fx, v.ID)
	if _, err := fx.svc.Update(ctx, v.ID, forms.SectionTobaccoAlcohol, map[string]any{"tobaccoConsumption": 2}); err != nil {
		t.Fatal(err)
	}
	last, err := fx.svc.GoTo(ctx, v.ID, 6)
	if err != nil {
		t.Fatal(err)
	}
	if last.CurrentStep != 6 || last.Progress != 100 {
		t.Fatalf("expected last step, got %d", last.CurrentStep)
	}

	fx.records.mu.Lock()
	fx.records.createErr = errors.New("backend down")
	fx.records.mu.Unlock()
	failed, err := fx.svc.Submit(ctx, v.ID)
	if !errors.Is(err, ErrSubmitFailed) {
		t.Fatalf("expected ErrSubmitFailed, got %v", err)
	}
	if failed.SubmitError == "" || failed.Submitted || failed.CurrentStep != 6 {
		t.Errorf("unexpected view after failure: %+v", failed)
	}

	fx.records.mu.Lock()
	fx.records.createErr = nil
	fx.records.mu.Unlock()
	done, err := fx.svc.Submit(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !done.Submitted || done.SubmitError != "" || done.Redirect != RecordsListPath {
		t.Errorf("unexpected view after success: %+v", done)
	}
	if done.Record == nil || !codePattern.MatchString(done.Record.Code) {
		t.Fatalf("expected created record, got %+v", done.Record)
	}
	if done.Redirect != "/dashboard/drug-requests" {
		t.Errorf("redirect = %q, want the records list", done.Redirect)
	}
	if _, err := fx.svc.Update(ctx, v.ID, forms.SectionSpaDeaths, map[string]any{"overdoseInvolved": true}); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("expected ErrAlreadySubmitted, got %v", err)
	}
}

func TestService_SubmitInvalidLastStep(t *testing.T) {
	fx := newServiceFixture()
	ctx := asUser("u")
	v, _ := fx.svc.Open(ctx, "u", ModeCreate, nil)
	completeFirstStep(t, fx, v.ID)
	fx.svc.Update(ctx, v.ID, forms.SectionTobaccoAlcohol, map[string]any{"tobaccoConsumption": 2})
	fx.svc.GoTo(ctx, v.ID, 6)
	fx.svc.Update(ctx, v.ID, forms.SectionSpaDeaths, map[string]any{"deathsInSocialCircle": true})

	got, err := fx.svc.Submit(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Submitted || !got.ShowValidationError {
		t.Fatalf("expected validation refusal, got %+v", got)
	}
	if got.Move.FirstInvalid != "numberOfDeaths" {
		t.Errorf("first invalid = %q, want numberOfDeaths", got.Move.FirstInvalid)
	}
	if len(fx.records.store) != 0 {
		t.Error("nothing should be submitted")
	}
}

func TestService_EditLoadsRecordAndAllLists(t *testing.T) {
	fx := newServiceFixture()
	ctx := asUser("u")

	rec, err := NewAssembler(fx.records, zerolog.Nop()).Submit(ctx, validForm(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	rec.SubstanceUse = forms.Section{
		"spaConsumptionInEntourage": true,
		"spaConsumptionEntourageUuidEntourages": []any{
			map[string]any{"id": float64(2), "selected": true},
			map[string]any{"id": float64(1), "selected": false},
			map[string]any{"id": float64(-1), "selected": false},
		},
	}

	v, err := fx.svc.Open(ctx, "u", ModeEdit, &rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if v.Mode != ModeEdit || *v.RecordID != rec.ID {
		t.Fatalf("unexpected view %+v", v)
	}
	if fieldView(t, v, "patientId").Value != "P-0001" {
		t.Error("expected stored values to be loaded")
	}
	if fx.lists.calls["entourage-types"] != 1 {
		t.Error("edit mode should prefetch every group list")
	}

	completeFirstStep(t, fx, v.ID)
	fx.svc.Next(ctx, v.ID)
	at3, _ := fx.svc.Get(ctx, v.ID)
	fv := fieldView(t, at3, "spaConsumptionEntourageUuidEntourages")
	if fv.Status != selection.Ready || len(fv.Options) != 3 {
		t.Fatalf("entourage = %s with %d options", fv.Status, len(fv.Options))
	}
	for _, o := range fv.Options {
		want := o.ID == 2
		if o.Selected == nil || *o.Selected != want {
			t.Errorf("option %d selected = %v, want %v", o.ID, o.Selected, want)
		}
	}

	fx.svc.GoTo(ctx, v.ID, 6)
	done, err := fx.svc.Submit(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Record.ID != rec.ID || fx.records.replaced != 1 {
		t.Errorf("expected record %s to be replaced", rec.ID)
	}
}

func TestService_DiscardAndMissing(t *testing.T) {
	fx := newServiceFixture()
	ctx := asUser("u")
	v, _ := fx.svc.Open(ctx, "u", ModeCreate, nil)
	if err := fx.svc.Discard(ctx, v.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.svc.Get(ctx, v.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore(time.Millisecond)
	ctx := context.Background()
	if err := store.Save(ctx, &Session{ID: "s1"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected expired session, got %v", err)
	}
	if n := store.Purge(); n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
}

// -- handler --

func newHandlerFixture() (*echo.Echo, *serviceFixture) {
	fx := newServiceFixture()
	e := echo.New()
	api := e.Group("/api", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := context.WithValue(c.Request().Context(), auth.UserRolesKey, []string{"manageRequests"})
			ctx = context.WithValue(ctx, auth.UserIDKey, "u")
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(fx.svc).RegisterRoutes(api)
	return e, fx
}

func TestHandler_OpenAndGet(t *testing.T) {
	e, fx := newHandlerFixture()

	req := httptest.NewRequest(http.MethodPost, "/api/intake/sessions", strings.NewReader(`{"mode":"create"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(fx.store.sessions) != 1 {
		t.Errorf("expected one stored session, got %d", len(fx.store.sessions))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/intake/sessions/"+uuid.NewString(), nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get unknown: expected 404, got %d", rec.Code)
	}
}

func TestHandler_UpdateUnreadableValue(t *testing.T) {
	e, fx := newHandlerFixture()
	v, err := fx.svc.Open(context.Background(), "u", ModeCreate, nil)
	if err != nil {
		t.Fatal(err)
	}

	body := `{"tobaccoConsumption": 1, "ageOfTobaccoConsumption": "abc"}`
	req := httptest.NewRequest(http.MethodPatch, "/api/intake/sessions/"+v.ID+"/sections/tobaccoAlcohol", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "ageOfTobaccoConsumption") {
		t.Error("expected the failing field in the body")
	}
}

func TestHandler_SubmitBeforeLastStep(t *testing.T) {
	e, fx := newHandlerFixture()
	v, _ := fx.svc.Open(context.Background(), "u", ModeCreate, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/intake/sessions/"+v.ID+"/submit", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestService_SessionsAreOwnedByTheirUser(t *testing.T) {
	fx := newServiceFixture()
	v, err := fx.svc.Open(asUser("owner"), "owner", ModeCreate, nil)
	if err != nil {
		t.Fatal(err)
	}
	other := asUser("someone-else")
	if _, err := fx.svc.Get(other, v.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get by another user: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := fx.svc.Next(other, v.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Next by another user: expected ErrSessionNotFound, got %v", err)
	}
	if err := fx.svc.Discard(other, v.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Discard by another user: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := fx.svc.Get(asUser("owner"), v.ID); err != nil {
		t.Errorf("owner should still reach the session: %v", err)
	}
}

func TestService_UnknownSessionsLeaveNoState(t *testing.T) {
	fx := newServiceFixture()
	ctx := asUser("u")
	for i := 0; i < 1000; i++ {
		if _, err := fx.svc.Next(ctx, uuid.NewString()); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	}
	if n := len(fx.svc.locks); n != lockStripes {
		t.Errorf("lock table grew to %d", n)
	}
	if len(fx.store.sessions) != 0 {
		t.Errorf("expected no stored sessions, got %d", len(fx.store.sessions))
	}
}

func TestService_CountsEachListFetchOnce(t *testing.T) {
	fx := newServiceFixture()
	counter := metrics.ReferenceFetches.WithLabelValues("origins-of-demand", "ok")
	before := testutil.ToFloat64(counter)
	if _, err := fx.svc.Open(asUser("u"), "u", ModeCreate, nil); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("fetch counted %v times, want 1", got)
	}
}

func TestService_SelectUnknownOption(t *testing.T) {
	fx := newServiceFixture()
	ctx := asUser("u")
	v, _ := fx.svc.Open(ctx, "u", ModeCreate, nil)
	_, err := fx.svc.Select(ctx, v.ID, forms.SectionStructureInfo, "originOfDemandSetUuidOriginOfDemands", 999, true)
	if !errors.Is(err, selection.ErrUnknownOption) {
		t.Fatalf("expected ErrUnknownOption, got %v", err)
	}
	got, _ := fx.svc.Get(ctx, v.ID)
	for _, o := range fieldView(t, got, "originOfDemandSetUuidOriginOfDemands").Options {
		if o.ID == 999 {
			t.Error("unknown option must not be stored")
		}
	}
}

func TestService_UpdateRejectsNonFiniteNumbers(t *testing.T) {
	fx := newServiceFixture()
	ctx := asUser("u")
	v, _ := fx.svc.Open(ctx, "u", ModeCreate, nil)
	for _, raw := range []string{"NaN", "Inf", "+Inf", "-Inf"} {
		_, err := fx.svc.Update(ctx, v.ID, forms.SectionTobaccoAlcohol, map[string]any{
			"tobaccoConsumption":      1,
			"ageOfTobaccoConsumption": raw,
		})
		var ie *InputError
		if !errors.As(err, &ie) {
			t.Fatalf("%s: expected InputError, got %v", raw, err)
		}
	}
	if _, err := fx.svc.Get(ctx, v.ID); err != nil {
		t.Fatalf("session must stay readable: %v", err)
	}
	sess, err := fx.store.Get(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	form, err := RestoreForm(schema.Default(), sess.Form)
	if err != nil {
		t.Fatal(err)
	}
	sec, _ := form.Section(forms.SectionTobaccoAlcohol)
	if got := sec.Value("ageOfTobaccoConsumption"); got != nil {
		t.Errorf("non-finite value was stored: %v", got)
	}
}

func TestHandler_OpenEditThroughQuery(t *testing.T) {
	e, fx := newHandlerFixture()
	stored, err := NewAssembler(fx.records, zerolog.Nop()).Submit(context.Background(), validForm(t), nil)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/intake/sessions?id="+stored.ID.String()+"&mode=edit", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var v View
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v.Mode != ModeEdit || v.RecordID == nil || *v.RecordID != stored.ID {
		t.Errorf("expected edit session on %s, got mode=%q record=%v", stored.ID, v.Mode, v.RecordID)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/intake/sessions?id=not-a-uuid&mode=edit", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}
}

func TestHandler_SelectUnknownOption(t *testing.T) {
	e, fx := newHandlerFixture()
	v, _ := fx.svc.Open(asUser("u"), "u", ModeCreate, nil)

	req := httptest.NewRequest(http.MethodPut,
		"/api/intake/sessions/"+v.ID+"/sections/structureInfo/groups/originOfDemandSetUuidOriginOfDemands/options/999",
		strings.NewReader(`{"selected":true}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}
