package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"worktracker/internal/i18n"
	"worktracker/internal/logfields"
	"worktracker/internal/mattermost"
	"worktracker/internal/model"
)

var (
	ErrLeaveNotFound   = errors.New("leave request not found")
	ErrLeaveNotPending = errors.New("leave request is no longer pending")
)

// Channels resolves the channels leave requests are posted to.
type Channels interface {
	GetChannel(ctx context.Context, channelID string) (*mattermost.ChannelInfo, error)
	GetChannelByName(ctx context.Context, teamID, channelName string) (string, error)
}

// LeaveObserver is told when a user's leave was approved.
type LeaveObserver interface {
	RefreshLeave(ctx context.Context, userID string) error
}

// LeaveService runs the leave workflow: a request is announced in the
// attendance channel and approved or rejected from the approval channel.
// Approved requests are what the engine's absence checks consult.
type LeaveService struct {
	store     Store
	mm        Messenger
	channels  Channels
	directory Directory
	observer  LeaveObserver
	botURL    string
	location  *time.Location
	now       func() time.Time
}

func NewLeaveService(store Store, mm Messenger, channels Channels, directory Directory, botURL string, loc *time.Location) *LeaveService {
	if loc == nil {
		loc = time.Local
	}
	return &LeaveService{
		store:     store,
		mm:        mm,
		channels:  channels,
		directory: directory,
		botURL:    botURL,
		location:  loc,
		now:       time.Now,
	}
}

// SetObserver registers who is told about approvals.
func (s *LeaveService) SetObserver(o LeaveObserver) { s.observer = o }

// LeaveInput is a submitted request form.
type LeaveInput struct {
	UserID    string
	Username  string
	ChannelID string
	Type      model.LeaveType
	Dates     []string
	Reason    string
	// ExpectedTime is the arrival or departure time, HH:MM.
	ExpectedTime string
	StartTime    string
	EndTime      string
}

func (s *LeaveService) CreateLeaveRequest(ctx context.Context, in LeaveInput) (*model.LeaveRequest, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	// Lookup username if not provided (dialog submissions may omit it)
	if in.Username == "" && s.directory != nil {
		user, err := s.directory.GetUser(ctx, in.UserID)
		if err != nil {
			return nil, fmt.Errorf("get user info: %w", err)
		}
		in.Username = user.Username
	}

	// Resolve approval channel before creating any posts
	channelInfo, err := s.channels.GetChannel(ctx, in.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("get channel info: %w", err)
	}

	// Extract suffix from channel name (e.g. "attendance-dev" → suffix "-dev")
	suffix := strings.TrimPrefix(channelInfo.Name, model.AttendanceChannel)
	approvalChannelName := model.AttendanceApprovalChannel + suffix
	approvalChannelID, err := s.channels.GetChannelByName(ctx, channelInfo.TeamID, approvalChannelName)
	if err != nil {
		return nil, fmt.Errorf("get approval channel '%s': %w", approvalChannelName, err)
	}

	now := s.now()
	req := &model.LeaveRequest{
		UserID:            in.UserID,
		Username:          in.Username,
		TeamID:            channelInfo.TeamID,
		ChannelID:         in.ChannelID,
		ApprovalChannelID: approvalChannelID,
		Type:              in.Type,
		Dates:             in.Dates,
		Reason:            in.Reason,
		ExpectedTime:      in.ExpectedTime,
		StartTime:         in.StartTime,
		EndTime:           in.EndTime,
		Status:            model.LeaveStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateLeaveRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create leave request: %w", err)
	}

	infoMsg := formatLeaveMsg(ctx, req)

	// Post info message to main channel (no buttons)
	infoPost, err := s.mm.CreatePost(ctx, &mattermost.Post{ChannelID: in.ChannelID, Message: infoMsg})
	if err != nil {
		return nil, fmt.Errorf("post info message: %w", err)
	}

	// Post approval message to approval channel (with buttons)
	approvalPost, err := s.mm.CreatePost(ctx, &mattermost.Post{
		ChannelID: approvalChannelID,
		Message:   "@all\n" + infoMsg,
		Props: mattermost.Props{Attachments: []mattermost.Attachment{{
			Actions: []mattermost.Action{
				{
					Name:  i18n.T(ctx, "leave.button.approve"),
					Type:  "button",
					Style: "good",
					Integration: mattermost.Integration{
						URL:     s.botURL + "/api/worktracker/leave/approve",
						Context: map[string]any{"request_id": req.ID},
					},
				},
				{
					Name:  i18n.T(ctx, "leave.button.reject"),
					Type:  "button",
					Style: "danger",
					Integration: mattermost.Integration{
						URL:     s.botURL + "/api/worktracker/leave/reject",
						Context: map[string]any{"request_id": req.ID},
					},
				},
			},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("post approval message: %w", err)
	}

	req.PostID = infoPost.ID
	req.ApprovalPostID = approvalPost.ID
	req.UpdatedAt = s.now()
	if err := s.store.UpdateLeaveRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("update leave request: %w", err)
	}
	slog.Info("Leave requested", logfields.User(req.UserID), slog.String("type", string(req.Type)), slog.Any("dates", req.Dates))
	return req, nil
}

// ApproveLeave approves a pending request and returns the updated summary.
func (s *LeaveService) ApproveLeave(ctx context.Context, requestID, approverID, approverUsername string) (string, error) {
	req, err := s.decide(ctx, requestID, approverID, approverUsername, model.LeaveStatusApproved, "")
	if err != nil {
		return "", err
	}

	updatedMsg := formatLeaveMsg(ctx, req)
	s.updatePost(ctx, req.PostID, req.ChannelID, updatedMsg)
	s.reply(ctx, req, i18n.T(ctx, "leave.reply.approved", map[string]any{"User": req.Username, "Approver": approverUsername}))

	if s.observer != nil {
		if err := s.observer.RefreshLeave(ctx, req.UserID); err != nil {
			slog.Error("Failed to apply approved leave", logfields.User(req.UserID), logfields.Error(err))
		}
	}
	return updatedMsg, nil
}

// RejectLeave rejects a pending request and returns the updated summary.
func (s *LeaveService) RejectLeave(ctx context.Context, requestID, rejecterID, rejecterUsername, reason string) (string, error) {
	req, err := s.decide(ctx, requestID, rejecterID, rejecterUsername, model.LeaveStatusRejected, reason)
	if err != nil {
		return "", err
	}

	updatedMsg := formatLeaveMsg(ctx, req)
	s.updatePost(ctx, req.PostID, req.ChannelID, updatedMsg)
	// Update approval post (remove buttons, show updated status)
	s.updatePost(ctx, req.ApprovalPostID, req.ApprovalChannelID, updatedMsg)

	replyMsg := i18n.T(ctx, "leave.reply.rejected", map[string]any{"User": req.Username, "Approver": rejecterUsername})
	if reason != "" {
		replyMsg += "\n> " + i18n.T(ctx, "leave.reply.reason", map[string]any{"Reason": reason})
	}
	s.reply(ctx, req, replyMsg)
	return updatedMsg, nil
}

// ListLeave returns the requests touching [from, to], for one user or all.
func (s *LeaveService) ListLeave(ctx context.Context, from, to, userID string) ([]*model.LeaveRequest, error) {
	reqs, err := s.store.GetLeaveRequestsByDateRange(ctx, from, to, userID)
	if err != nil {
		return nil, fmt.Errorf("get leave requests: %w", err)
	}
	return reqs, nil
}

func (s *LeaveService) decide(ctx context.Context, requestID, deciderID, deciderUsername string, status model.LeaveStatus, reason string) (*model.LeaveRequest, error) {
	req, err := s.store.GetLeaveRequestByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("get leave request: %w", err)
	}
	if req == nil {
		return nil, ErrLeaveNotFound
	}
	if req.Status != model.LeaveStatusPending {
		return nil, fmt.Errorf("%w: %s", ErrLeaveNotPending, req.Status)
	}

	now := s.now()
	req.Status = status
	req.ApproverID = deciderID
	req.ApproverUsername = deciderUsername
	req.ApprovedAt = &now
	req.RejectReason = reason
	req.UpdatedAt = now
	if err := s.store.UpdateLeaveRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("update leave request: %w", err)
	}
	slog.Info("Leave decided", logfields.User(req.UserID), logfields.Status(string(status)), slog.String("by", deciderUsername))
	return req, nil
}

func (s *LeaveService) updatePost(ctx context.Context, postID, channelID, message string) {
	if postID == "" {
		return
	}
	_, err := s.mm.UpdatePost(ctx, postID, &mattermost.Post{
		ChannelID: channelID,
		Message:   message,
		Props:     mattermost.Props{Attachments: []mattermost.Attachment{}},
	})
	if err != nil {
		slog.Error("Failed to update leave post", slog.String("post_id", postID), logfields.Error(err))
	}
}

// reply notifies the requester in the thread of the info post.
func (s *LeaveService) reply(ctx context.Context, req *model.LeaveRequest, message string) {
	_, err := s.mm.CreatePost(ctx, &mattermost.Post{ChannelID: req.ChannelID, RootID: req.PostID, Message: message})
	if err != nil {
		slog.Error("Failed to notify requester", logfields.User(req.UserID), logfields.Error(err))
	}
}

func (s *LeaveService) validate(in LeaveInput) error {
	if !in.Type.Valid() {
		return fmt.Errorf("unknown leave type %q", in.Type)
	}
	if err := validateDateList(in.Dates, s.now().In(s.location).Format(time.DateOnly)); err != nil {
		return fmt.Errorf("validate dates: %w", err)
	}
	switch in.Type {
	case model.LeaveTypeLateArrival, model.LeaveTypeEarlyDeparture:
		if err := validateClock(in.ExpectedTime); err != nil {
			return err
		}
	case model.LeaveTypeWorkPermit:
		if err := validateClock(in.StartTime); err != nil {
			return err
		}
		if err := validateClock(in.EndTime); err != nil {
			return err
		}
		if in.EndTime <= in.StartTime {
			return fmt.Errorf("end time %s is not after start time %s", in.EndTime, in.StartTime)
		}
	}
	return nil
}

func validateDateList(dates []string, today string) error {
	if len(dates) == 0 {
		return fmt.Errorf("at least one date is required")
	}
	for _, d := range dates {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return fmt.Errorf("invalid date %q: %w", d, err)
		}
		if d < today {
			return fmt.Errorf("date %s is in the past", d)
		}
	}
	return nil
}

func validateClock(s string) error {
	if _, err := time.Parse("15:04", s); err != nil {
		return fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return nil
}

// ParseDates splits a comma separated list of dates.
func ParseDates(s string) []string {
	var dates []string
	for _, d := range strings.Split(s, ",") {
		if d = strings.TrimSpace(d); d != "" {
			dates = append(dates, d)
		}
	}
	return dates
}

func formatLeaveMsg(ctx context.Context, req *model.LeaveRequest) string {
	row := func(labelID, value string) string {
		return fmt.Sprintf("| **%s** | %s |\n", i18n.T(ctx, labelID), value)
	}

	var b strings.Builder
	b.WriteString("#### " + i18n.T(ctx, "leave.title."+string(req.Type)) + "\n| | |\n|:--|:--|\n")
	b.WriteString(row("leave.field.user", "@"+req.Username))
	switch req.Type {
	case model.LeaveTypeLateArrival:
		b.WriteString(row("leave.field.date", req.Dates[0]))
		b.WriteString(row("leave.field.arrival", req.ExpectedTime))
	case model.LeaveTypeEarlyDeparture:
		b.WriteString(row("leave.field.date", req.Dates[0]))
		b.WriteString(row("leave.field.departure", req.ExpectedTime))
	case model.LeaveTypeWorkPermit:
		b.WriteString(row("leave.field.date", req.Dates[0]))
		b.WriteString(row("leave.field.window", req.StartTime+" - "+req.EndTime))
	default:
		b.WriteString(row("leave.field.type", i18n.T(ctx, "leave.type."+string(req.Type))))
		b.WriteString(row("leave.field.dates", strings.Join(req.Dates, ", ")))
	}
	b.WriteString(row("leave.field.reason", req.Reason))
	status := i18n.T(ctx, "leave.status."+string(req.Status))
	if req.Status != model.LeaveStatusPending {
		status = "**" + strings.ToUpper(status) + "**"
	}
	b.WriteString(strings.TrimSuffix(row("leave.field.status", status), "\n"))
	return b.String()
}
