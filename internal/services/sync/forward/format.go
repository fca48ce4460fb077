package forward

import (
	"strconv"
	"strings"

	"github.com/louisbranch/actionsync/internal/services/sync/domain"
)

// Custom field keys read by the formatter.
const (
	fieldComment             = "comment"
	fieldDataHandlingConsent = "data_handling_consent"
)

// Signature is the downstream representation of one action.
type Signature struct {
	ActionID            int64  `json:"external_id"`
	ActionType          string `json:"action_type"`
	Petition            string `json:"petition"`
	FirstName           string `json:"first_name"`
	LastName            string `json:"last_name"`
	Email               string `json:"email"`
	Country             string `json:"country,omitempty"`
	Postcode            string `json:"postcode,omitempty"`
	Locale              string `json:"locale,omitempty"`
	Comment             string `json:"comment,omitempty"`
	SubscribeNewsletter bool   `json:"subscribe_newsletter"`
	UTMSource           string `json:"utm_source,omitempty"`
	UTMMedium           string `json:"utm_medium,omitempty"`
	UTMCampaign         string `json:"utm_campaign,omitempty"`
	UTMContent          string `json:"utm_content,omitempty"`
}

// ActionPayload is the body posted for an action.
type ActionPayload struct {
	PetitionSignature Signature `json:"petition_signature"`
}

// Consent is the consent metadata sent with a verification.
type Consent struct {
	SubscribeNewsletter bool `json:"subscribe_newsletter"`
	DataHandlingConsent bool `json:"data_handling_consent"`
}

// ConsentPayload is the body posted to the verification endpoint.
type ConsentPayload struct {
	PetitionSignature Consent `json:"petition_signature"`
}

// FormatAction builds the downstream payload for action.
func FormatAction(action *domain.ActionMessage, pii domain.DecryptedContact) ActionPayload {
	signature := Signature{
		ActionID:            action.ActionID,
		ActionType:          action.Action.ActionType,
		Petition:            action.Campaign.Name,
		FirstName:           strings.TrimSpace(pii.FirstName),
		LastName:            strings.TrimSpace(pii.LastName),
		Email:               strings.TrimSpace(pii.Email),
		Country:             strings.TrimSpace(pii.Address.Country),
		Postcode:            strings.TrimSpace(pii.Address.Postcode),
		Locale:              action.ActionPage.Locale,
		SubscribeNewsletter: action.Privacy.OptIn,
	}
	if comment, ok := action.Action.Field(fieldComment); ok {
		signature.Comment = comment
	}
	if tracking := action.Tracking; tracking != nil {
		signature.UTMSource = tracking.Source
		signature.UTMMedium = tracking.Medium
		signature.UTMCampaign = tracking.Campaign
		signature.UTMContent = tracking.Content
	}
	return ActionPayload{PetitionSignature: signature}
}

// ConsentFor derives the verification payload. Data handling consent is
// read from the action's custom field and defaults to granted, since the
// action could not be submitted without it.
func ConsentFor(action *domain.ActionMessage, payload ActionPayload) ConsentPayload {
	return ConsentPayload{PetitionSignature: Consent{
		SubscribeNewsletter: payload.PetitionSignature.SubscribeNewsletter,
		DataHandlingConsent: dataHandlingConsent(action),
	}}
}

func dataHandlingConsent(action *domain.ActionMessage) bool {
	value, ok := action.Action.Field(fieldDataHandlingConsent)
	if !ok || value == "" {
		return true
	}
	switch strings.ToLower(value) {
	case "yes", "y", "on":
		return true
	case "no", "n", "off":
		return false
	}
	granted, err := strconv.ParseBool(value)
	if err != nil {
		return true
	}
	return granted
}
