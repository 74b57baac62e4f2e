// Package directory answers who a WhatsApp sender is and which agent should
// talk to them.
package directory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Conversly/whatsapp-gateway/internal/loaders"
	"github.com/Conversly/whatsapp-gateway/internal/utils"
)

// Agent identifiers recommended to the AI backend.
const (
	AgentDoubt    = "DOUBT"
	AgentSales    = "SALES"
	AgentGreeting = "GREETING_WITHOUT_MEMORY"
)

// Repository is the subset of *loaders.PostgresClient the directory needs.
type Repository interface {
	FindUserByPhone(ctx context.Context, phone string) (*loaders.UserRecord, error)
	FindLeadByPhone(ctx context.Context, phone string) (*loaders.LeadRecord, error)
	CreateLead(ctx context.Context, phone string, name *string) (*loaders.LeadRecord, error)
	CompleteLeadOnboarding(ctx context.Context, phone string) error
}

// UserStatus classifies a sender.
type UserStatus struct {
	IsLead              bool                `json:"isLead"`
	IsUser              bool                `json:"isUser"`
	IsFirstMessage      bool                `json:"isFirstMessage"`
	OnboardingCompleted bool                `json:"onboardingCompleted"`
	NeedsOnboarding     bool                `json:"needsOnboarding"`
	RecommendedAgent    string              `json:"recommendedAgent"`
	User                *loaders.UserRecord `json:"user,omitempty"`
	Lead                *loaders.LeadRecord `json:"lead,omitempty"`
}

// DisplayName prefers the stored name over the WhatsApp push name.
func (s UserStatus) DisplayName(pushName string) string {
	switch {
	case s.User != nil && s.User.Nickname != nil && *s.User.Nickname != "":
		return *s.User.Nickname
	case s.User != nil && s.User.Name != nil && *s.User.Name != "":
		return *s.User.Name
	case s.Lead != nil && s.Lead.Name != nil && *s.Lead.Name != "":
		return *s.Lead.Name
	}
	return pushName
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func firstMessage() UserStatus {
	return UserStatus{
		IsLead:           true,
		IsFirstMessage:   true,
		NeedsOnboarding:  true,
		RecommendedAgent: AgentGreeting,
	}
}

// CheckUserStatus looks the phone up in users, then leads, and creates a lead
// when neither matches. Lookup failures fall back to the first-message status
// so the conversation can continue.
func (s *Service) CheckUserStatus(ctx context.Context, phone, pushName string) UserStatus {
	clean := utils.CleanPhone(phone)

	status, err := s.checkUserStatus(ctx, clean, pushName)
	if err != nil {
		utils.Zlog.Error("Error checking user status", zap.String("phone", clean), zap.Error(err))
		return firstMessage()
	}

	utils.Zlog.Info("User status resolved",
		zap.String("phone", clean),
		zap.Bool("is_user", status.IsUser),
		zap.Bool("is_lead", status.IsLead),
		zap.Bool("first_message", status.IsFirstMessage),
		zap.String("recommended_agent", status.RecommendedAgent))
	return status
}

func (s *Service) checkUserStatus(ctx context.Context, phone, pushName string) (UserStatus, error) {
	if phone == "" {
		return UserStatus{}, errors.New("phone is empty after cleaning")
	}

	user, err := s.repo.FindUserByPhone(ctx, phone)
	switch {
	case err == nil:
		return UserStatus{
			IsUser:              true,
			OnboardingCompleted: true,
			RecommendedAgent:    AgentDoubt,
			User:                user,
		}, nil
	case !errors.Is(err, loaders.ErrNotFound):
		return UserStatus{}, fmt.Errorf("find user: %w", err)
	}

	lead, err := s.repo.FindLeadByPhone(ctx, phone)
	switch {
	case err == nil:
		agent := AgentGreeting
		if lead.OnboardingConcluido {
			agent = AgentSales
		}
		return UserStatus{
			IsLead:              true,
			OnboardingCompleted: lead.OnboardingConcluido,
			NeedsOnboarding:     !lead.OnboardingConcluido,
			RecommendedAgent:    agent,
			Lead:                lead,
		}, nil
	case !errors.Is(err, loaders.ErrNotFound):
		return UserStatus{}, fmt.Errorf("find lead: %w", err)
	}

	var name *string
	if pushName != "" {
		name = &pushName
	}
	lead, err = s.repo.CreateLead(ctx, phone, name)
	if err != nil {
		return UserStatus{}, fmt.Errorf("create lead: %w", err)
	}
	utils.Zlog.Info("New lead created", zap.String("lead_id", lead.ID), zap.String("phone", phone))

	status := firstMessage()
	status.Lead = lead
	return status, nil
}

// CompleteOnboarding marks the lead for phone as onboarded.
func (s *Service) CompleteOnboarding(ctx context.Context, phone string) error {
	clean := utils.CleanPhone(phone)
	if err := s.repo.CompleteLeadOnboarding(ctx, clean); err != nil {
		return fmt.Errorf("complete onboarding for %s: %w", clean, err)
	}
	utils.Zlog.Info("Onboarding completed for lead", zap.String("phone", clean))
	return nil
}
