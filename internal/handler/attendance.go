package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"worktracker/internal/i18n"
	"worktracker/internal/logfields"
	"worktracker/internal/mattermost"
	"worktracker/internal/model"
	"worktracker/internal/service"
)

// DialogOpener opens interactive dialogs.
type DialogOpener interface {
	OpenDialog(ctx context.Context, req *mattermost.DialogRequest) error
}

type AttendanceHandler struct {
	tracker  *service.Tracker
	leave    *service.LeaveService
	prompts  *service.Prompter
	mm       DialogOpener
	botURL   string
	location *time.Location
}

func NewAttendanceHandler(tracker *service.Tracker, leave *service.LeaveService, prompts *service.Prompter, mm DialogOpener, botURL string, loc *time.Location) *AttendanceHandler {
	if loc == nil {
		loc = time.Local
	}
	return &AttendanceHandler{tracker: tracker, leave: leave, prompts: prompts, mm: mm, botURL: botURL, location: loc}
}

// ActionRequest is the Mattermost interactive action request.
type ActionRequest struct {
	UserID    string         `json:"user_id"`
	UserName  string         `json:"user_name"`
	ChannelID string         `json:"channel_id"`
	PostID    string         `json:"post_id"`
	TriggerID string         `json:"trigger_id"`
	Type      string         `json:"type"`
	Context   map[string]any `json:"context"`
}

// DialogSubmission is the Mattermost dialog submission.
type DialogSubmission struct {
	Type       string            `json:"type"`
	CallbackID string            `json:"callback_id"`
	State      string            `json:"state"`
	UserID     string            `json:"user_id"`
	UserName   string            `json:"user_name"`
	ChannelID  string            `json:"channel_id"`
	TeamID     string            `json:"team_id"`
	Submission map[string]string `json:"submission"`
	Cancelled  bool              `json:"cancelled"`
}

// SlashResponse is the response to a slash command.
type SlashResponse struct {
	ResponseType string                  `json:"response_type"` // "ephemeral" or "in_channel"
	Text         string                  `json:"text,omitempty"`
	Attachments  []mattermost.Attachment `json:"attachments,omitempty"`
}

// ActionResponse is the response to an interactive action.
type ActionResponse struct {
	Update        *ActionUpdate `json:"update,omitempty"`
	EphemeralText string        `json:"ephemeral_text,omitempty"`
}

// ActionUpdate updates the original post.
type ActionUpdate struct {
	Message string            `json:"message,omitempty"`
	Props   *mattermost.Props `json:"props,omitempty"`
}

// DialogResponse reports field errors back to an open dialog.
type DialogResponse struct {
	Error  string            `json:"error,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
}

// HandleSlashCommand handles the /worktracker slash command: the caller's
// day so far, plus the request forms in attendance channels.
func (h *AttendanceHandler) HandleSlashCommand(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	userID := r.FormValue("user_id")

	switch strings.TrimSpace(r.FormValue("text")) {
	case "", "status":
	case "help":
		writeJSON(w, SlashResponse{ResponseType: "ephemeral", Text: i18n.T(ctx, "slash.help")})
		return
	default:
		writeJSON(w, SlashResponse{ResponseType: "ephemeral", Text: i18n.T(ctx, "slash.unknown")})
		return
	}

	summary, err := h.tracker.Summary(ctx, userID)
	if err != nil {
		slog.Error("Failed to build status summary", logfields.User(userID), logfields.Error(err))
		writeJSON(w, SlashResponse{ResponseType: "ephemeral", Text: i18n.T(ctx, "error.generic")})
		return
	}
	resp := SlashResponse{ResponseType: "ephemeral", Text: i18n.T(ctx, "summary.unknown_user")}
	if summary != nil {
		resp.Text = service.FormatSummary(ctx, summary, h.location)
	}
	if strings.HasPrefix(r.FormValue("channel_name"), model.AttendanceChannel) {
		resp.Attachments = []mattermost.Attachment{{
			Text: "**" + i18n.T(ctx, "slash.requests") + "**",
			Actions: []mattermost.Action{
				h.formButton(ctx, "leave.title.leave", "leave-form"),
				h.formButton(ctx, "leave.title.late_arrival", "late-form"),
				h.formButton(ctx, "leave.title.early_departure", "early-form"),
				h.formButton(ctx, "leave.title.work_permit", "permit-form"),
			},
		}}
	}
	writeJSON(w, resp)
}

func (h *AttendanceHandler) formButton(ctx context.Context, labelID, action string) mattermost.Action {
	return mattermost.Action{Name: i18n.T(ctx, labelID), Type: "button", Integration: mattermost.Integration{
		URL:     h.botURL + "/api/worktracker/" + action,
		Context: map[string]any{"action": action},
	}}
}

// HandlePrompt receives the buttons of confirmation and check-in prompts.
func (h *AttendanceHandler) HandlePrompt(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	promptID, _ := req.Context["prompt_id"].(string)
	answer, _ := req.Context["answer"].(string)
	if promptID == "" {
		writeJSON(w, ActionResponse{EphemeralText: i18n.T(ctx, "error.missing_id")})
		return
	}

	var err error
	switch answer {
	case "yes", "now":
		err = h.prompts.Answer(promptID, req.UserID, true)
	case "no":
		err = h.prompts.Answer(promptID, req.UserID, false)
	case "dialog":
		if !h.prompts.Pending(promptID) {
			err = service.ErrPromptNotFound
			break
		}
		err = h.mm.OpenDialog(ctx, &mattermost.DialogRequest{
			TriggerID: req.TriggerID,
			URL:       h.botURL + "/api/worktracker/checkin-submit",
			Dialog: mattermost.Dialog{
				Title:       i18n.T(ctx, "dialog.checkin.title"),
				SubmitLabel: i18n.T(ctx, "dialog.submit"),
				State:       promptID,
				Elements: []mattermost.DialogElement{{
					DisplayName: i18n.T(ctx, "dialog.checkin.time"),
					Name:        "time",
					Type:        "text",
					Placeholder: "HH:MM",
				}},
			},
		})
	default:
		writeJSON(w, ActionResponse{EphemeralText: i18n.T(ctx, "error.generic")})
		return
	}
	if err != nil {
		writeJSON(w, ActionResponse{EphemeralText: promptError(ctx, err)})
		return
	}
	writeJSON(w, ActionResponse{})
}

// HandleCheckInSubmit receives the check-in time dialog.
func (h *AttendanceHandler) HandleCheckInSubmit(w http.ResponseWriter, r *http.Request) {
	var sub DialogSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if sub.Cancelled {
		w.WriteHeader(http.StatusOK)
		return
	}
	ctx := r.Context()
	err := h.prompts.AnswerCheckIn(sub.State, sub.UserID, strings.TrimSpace(sub.Submission["time"]))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, service.ErrPromptNotFound), errors.Is(err, service.ErrPromptForbidden):
		writeJSON(w, DialogResponse{Error: promptError(ctx, err)})
	default:
		writeJSON(w, DialogResponse{Errors: map[string]string{"time": err.Error()}})
	}
}

func promptError(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, service.ErrPromptNotFound):
		return i18n.T(ctx, "prompt.expired")
	case errors.Is(err, service.ErrPromptForbidden):
		return i18n.T(ctx, "error.not_yours")
	}
	slog.Error("Prompt answer failed", logfields.Error(err))
	return i18n.T(ctx, "error.generic")
}

// HandleLeaveForm opens the leave request dialog.
func (h *AttendanceHandler) HandleLeaveForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.openForm(w, r, "leave", mattermost.Dialog{
		Title: i18n.T(ctx, "leave.title.leave"),
		Elements: []mattermost.DialogElement{
			{
				DisplayName: i18n.T(ctx, "leave.field.type"),
				Name:        "leave_type",
				Type:        "select",
				Options: []mattermost.SelectOption{
					{Text: i18n.T(ctx, "leave.type.leave"), Value: string(model.LeaveTypeAnnual)},
					{Text: i18n.T(ctx, "leave.type.emergency"), Value: string(model.LeaveTypeEmergency)},
					{Text: i18n.T(ctx, "leave.type.sick"), Value: string(model.LeaveTypeSick)},
				},
			},
			{
				DisplayName: i18n.T(ctx, "leave.field.dates"),
				Name:        "dates",
				Type:        "textarea",
				HelpText:    i18n.T(ctx, "dialog.dates.help"),
				Placeholder: "YYYY-MM-DD, YYYY-MM-DD, ...",
			},
			reasonElement(ctx),
		},
	})
}

// HandleLateArrivalForm opens the late arrival request dialog.
func (h *AttendanceHandler) HandleLateArrivalForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.openForm(w, r, "late", mattermost.Dialog{
		Title: i18n.T(ctx, "leave.title.late_arrival"),
		Elements: []mattermost.DialogElement{
			dateElement(ctx),
			timeElement(ctx, "time", "leave.field.arrival", "10:00"),
			reasonElement(ctx),
		},
	})
}

// HandleEarlyDepartureForm opens the early departure request dialog.
func (h *AttendanceHandler) HandleEarlyDepartureForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.openForm(w, r, "early", mattermost.Dialog{
		Title: i18n.T(ctx, "leave.title.early_departure"),
		Elements: []mattermost.DialogElement{
			dateElement(ctx),
			timeElement(ctx, "time", "leave.field.departure", "15:00"),
			reasonElement(ctx),
		},
	})
}

// HandleWorkPermitForm opens the dialog for a time-bounded absence.
func (h *AttendanceHandler) HandleWorkPermitForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.openForm(w, r, "permit", mattermost.Dialog{
		Title: i18n.T(ctx, "leave.title.work_permit"),
		Elements: []mattermost.DialogElement{
			dateElement(ctx),
			timeElement(ctx, "start", "leave.field.from", "10:00"),
			timeElement(ctx, "end", "leave.field.to", "12:00"),
			reasonElement(ctx),
		},
	})
}

func (h *AttendanceHandler) openForm(w http.ResponseWriter, r *http.Request, submitPath string, dialog mattermost.Dialog) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	dialog.SubmitLabel = i18n.T(ctx, "dialog.submit")
	err := h.mm.OpenDialog(ctx, &mattermost.DialogRequest{
		TriggerID: req.TriggerID,
		URL:       h.botURL + "/api/worktracker/" + submitPath,
		Dialog:    dialog,
	})
	if err != nil {
		slog.Error("Failed to open dialog", logfields.User(req.UserID), slog.String("form", submitPath), logfields.Error(err))
		writeJSON(w, ActionResponse{EphemeralText: i18n.T(ctx, "error.form")})
		return
	}
	writeJSON(w, ActionResponse{})
}

func dateElement(ctx context.Context) mattermost.DialogElement {
	return mattermost.DialogElement{
		DisplayName: i18n.T(ctx, "leave.field.date"),
		Name:        "date",
		Type:        "text",
		SubType:     "date",
		Placeholder: "YYYY-MM-DD",
	}
}

func timeElement(ctx context.Context, name, labelID, example string) mattermost.DialogElement {
	return mattermost.DialogElement{
		DisplayName: i18n.T(ctx, labelID),
		Name:        name,
		Type:        "text",
		Placeholder: i18n.T(ctx, "dialog.time.placeholder", map[string]any{"Example": example}),
	}
}

func reasonElement(ctx context.Context) mattermost.DialogElement {
	return mattermost.DialogElement{
		DisplayName: i18n.T(ctx, "leave.field.reason"),
		Name:        "reason",
		Type:        "textarea",
		Placeholder: i18n.T(ctx, "dialog.reason.placeholder"),
	}
}

// HandleLeaveSubmit processes the leave request dialog submission.
func (h *AttendanceHandler) HandleLeaveSubmit(w http.ResponseWriter, r *http.Request) {
	h.submitLeave(w, r, func(sub *DialogSubmission) service.LeaveInput {
		return service.LeaveInput{
			Type:  model.LeaveType(sub.Submission["leave_type"]),
			Dates: service.ParseDates(sub.Submission["dates"]),
		}
	})
}

// HandleLateArrivalSubmit processes the late arrival dialog submission.
func (h *AttendanceHandler) HandleLateArrivalSubmit(w http.ResponseWriter, r *http.Request) {
	h.submitLeave(w, r, func(sub *DialogSubmission) service.LeaveInput {
		return service.LeaveInput{
			Type:         model.LeaveTypeLateArrival,
			Dates:        []string{sub.Submission["date"]},
			ExpectedTime: sub.Submission["time"],
		}
	})
}

// HandleEarlyDepartureSubmit processes the early departure dialog submission.
func (h *AttendanceHandler) HandleEarlyDepartureSubmit(w http.ResponseWriter, r *http.Request) {
	h.submitLeave(w, r, func(sub *DialogSubmission) service.LeaveInput {
		return service.LeaveInput{
			Type:         model.LeaveTypeEarlyDeparture,
			Dates:        []string{sub.Submission["date"]},
			ExpectedTime: sub.Submission["time"],
		}
	})
}

func (h *AttendanceHandler) HandleWorkPermitSubmit(w http.ResponseWriter, r *http.Request) {
	h.submitLeave(w, r, func(sub *DialogSubmission) service.LeaveInput {
		return service.LeaveInput{
			Type:      model.LeaveTypeWorkPermit,
			Dates:     []string{sub.Submission["date"]},
			StartTime: sub.Submission["start"],
			EndTime:   sub.Submission["end"],
		}
	})
}

func (h *AttendanceHandler) submitLeave(w http.ResponseWriter, r *http.Request, build func(*DialogSubmission) service.LeaveInput) {
	var sub DialogSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if sub.Cancelled {
		w.WriteHeader(http.StatusOK)
		return
	}

	in := build(&sub)
	in.UserID = sub.UserID
	in.Username = sub.UserName
	in.ChannelID = sub.ChannelID
	in.Reason = strings.TrimSpace(sub.Submission["reason"])

	if _, err := h.leave.CreateLeaveRequest(r.Context(), in); err != nil {
		slog.Error("Failed to create leave request", logfields.User(sub.UserID), logfields.Error(err))
		writeJSON(w, DialogResponse{Error: i18n.T(r.Context(), "error.leave_create", map[string]any{"Error": err.Error()})})
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleApprove handles the approve button click.
func (h *AttendanceHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	requestID, _ := req.Context["request_id"].(string)
	if requestID == "" {
		writeJSON(w, ActionResponse{EphemeralText: i18n.T(ctx, "error.missing_id")})
		return
	}

	msg, err := h.leave.ApproveLeave(ctx, requestID, req.UserID, req.UserName)
	if err != nil {
		writeJSON(w, ActionResponse{EphemeralText: err.Error()})
		return
	}

	writeJSON(w, ActionResponse{
		Update: &ActionUpdate{
			Message: msg,
			Props:   &mattermost.Props{Attachments: []mattermost.Attachment{}},
		},
	})
}

// HandleReject opens a dialog asking for the rejection reason.
func (h *AttendanceHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	requestID, _ := req.Context["request_id"].(string)
	if requestID == "" {
		writeJSON(w, ActionResponse{EphemeralText: i18n.T(ctx, "error.missing_id")})
		return
	}

	err := h.mm.OpenDialog(ctx, &mattermost.DialogRequest{
		TriggerID: req.TriggerID,
		URL:       h.botURL + "/api/worktracker/leave/reject-submit",
		Dialog: mattermost.Dialog{
			CallbackID:  requestID,
			Title:       i18n.T(ctx, "dialog.reject.title"),
			SubmitLabel: i18n.T(ctx, "leave.button.reject"),
			Elements: []mattermost.DialogElement{{
				DisplayName: i18n.T(ctx, "leave.field.reason"),
				Name:        "reason",
				Type:        "textarea",
				Placeholder: i18n.T(ctx, "dialog.reject.placeholder"),
			}},
		},
	})
	if err != nil {
		slog.Error("Failed to open reject dialog", logfields.Error(err))
		writeJSON(w, ActionResponse{EphemeralText: i18n.T(ctx, "error.form")})
		return
	}
	writeJSON(w, ActionResponse{})
}

// HandleRejectSubmit processes the reject dialog submission.
func (h *AttendanceHandler) HandleRejectSubmit(w http.ResponseWriter, r *http.Request) {
	var sub DialogSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if sub.Cancelled {
		w.WriteHeader(http.StatusOK)
		return
	}
	ctx := r.Context()

	if sub.CallbackID == "" {
		writeJSON(w, DialogResponse{Error: i18n.T(ctx, "error.missing_id")})
		return
	}

	if _, err := h.leave.RejectLeave(ctx, sub.CallbackID, sub.UserID, sub.UserName, sub.Submission["reason"]); err != nil {
		slog.Error("Failed to reject leave", logfields.Error(err))
		writeJSON(w, DialogResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleListLeave returns the leave requests overlapping [from, to] as JSON,
// optionally for a single user.
func (h *AttendanceHandler) HandleListLeave(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	today := time.Now().In(h.location).Format(time.DateOnly)
	from, to := q.Get("from"), q.Get("to")
	if from == "" {
		from = today
	}
	if to == "" {
		to = from
	}
	for _, d := range []string{from, to} {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			http.Error(w, "dates must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}
	reqs, err := h.leave.ListLeave(r.Context(), from, to, q.Get("user_id"))
	if err != nil {
		slog.Error("Failed to list leave requests", logfields.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if reqs == nil {
		reqs = []*model.LeaveRequest{}
	}
	writeJSON(w, reqs)
}

// RegisterRoutes registers all attendance routes on the given mux.
func (h *AttendanceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/worktracker", h.HandleSlashCommand)
	mux.HandleFunc("POST /api/worktracker/prompt", h.HandlePrompt)
	mux.HandleFunc("POST /api/worktracker/checkin-submit", h.HandleCheckInSubmit)
	mux.HandleFunc("POST /api/worktracker/leave-form", h.HandleLeaveForm)
	mux.HandleFunc("POST /api/worktracker/leave", h.HandleLeaveSubmit)
	mux.HandleFunc("POST /api/worktracker/late-form", h.HandleLateArrivalForm)
	mux.HandleFunc("POST /api/worktracker/late", h.HandleLateArrivalSubmit)
	mux.HandleFunc("POST /api/worktracker/early-form", h.HandleEarlyDepartureForm)
	mux.HandleFunc("POST /api/worktracker/early", h.HandleEarlyDepartureSubmit)
	mux.HandleFunc("POST /api/worktracker/permit-form", h.HandleWorkPermitForm)
	mux.HandleFunc("POST /api/worktracker/permit", h.HandleWorkPermitSubmit)
	mux.HandleFunc("POST /api/worktracker/leave/approve", h.HandleApprove)
	mux.HandleFunc("POST /api/worktracker/leave/reject", h.HandleReject)
	mux.HandleFunc("POST /api/worktracker/leave/reject-submit", h.HandleRejectSubmit)
	mux.HandleFunc("GET /api/worktracker/leave", h.HandleListLeave)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", logfields.Error(err))
	}
}
