package models

import "errors"

var (
	ErrCampaignNotFound   = errors.New("campaign not found")
	ErrCampaignNotRunning = errors.New("campaign is not running")
	ErrCampaignNotDraft   = errors.New("campaign is not in draft")
	ErrVariantNotFound    = errors.New("variant not found")
	ErrTemplateNotFound   = errors.New("template not found")
	ErrRuleNotFound       = errors.New("variant rule not found")
)
