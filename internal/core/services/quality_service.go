package services

import (
	"fmt"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
)

// QualityService maps quality tiers to encoder constraints and applies them
// to live senders without renegotiation.
type QualityService struct {
	presets map[domain.QualityTier]domain.QualityPreset
}

func NewQualityService() *QualityService {
	presets := make(map[domain.QualityTier]domain.QualityPreset, len(domain.QualityPresets))
	for tier, preset := range domain.QualityPresets {
		presets[tier] = preset
	}
	return &QualityService{presets: presets}
}

// Preset returns the constraints for tier.
func (qs *QualityService) Preset(tier domain.QualityTier) (domain.QualityPreset, error) {
	preset, ok := qs.presets[tier]
	if !ok {
		return domain.QualityPreset{}, fmt.Errorf("%w: %q", domain.ErrUnknownQualityTier, tier)
	}
	return preset, nil
}

// CaptureConstraints builds the ideal capture hints for a tier.
func (qs *QualityService) CaptureConstraints(tier domain.QualityTier, deviceID string) *domain.VideoConstraints {
	preset, err := qs.Preset(tier)
	if err != nil {
		preset = domain.QualityPreset{}
	}
	return domain.VideoConstraintsFor(preset, deviceID)
}

// EncodingParameters returns params rewritten for tier. Auto clears both
// limits; any other tier sets maxBitrate (bps) and maxFramerate.
func (qs *QualityService) EncodingParameters(params domain.SendParameters, tier domain.QualityTier) (domain.SendParameters, error) {
	preset, err := qs.Preset(tier)
	if err != nil {
		return params, err
	}

	encodings := make([]domain.EncodingParameters, len(params.Encodings))
	copy(encodings, params.Encodings)
	if len(encodings) == 0 {
		encodings = append(encodings, domain.EncodingParameters{Active: true})
	}

	for i := range encodings {
		if tier == domain.QualityAuto {
			encodings[i].MaxBitrate = nil
			encodings[i].MaxFramerate = nil
			continue
		}
		bitrate := uint64(preset.MaxBitrateKbps) * 1000
		framerate := float64(preset.FrameRate)
		encodings[i].MaxBitrate = &bitrate
		encodings[i].MaxFramerate = &framerate
	}

	return domain.SendParameters{Encodings: encodings}, nil
}

// ApplyToSender mutates the sender's live encoding parameters.
func (qs *QualityService) ApplyToSender(sender ports.RTPSender, tier domain.QualityTier) error {
	params, err := qs.EncodingParameters(sender.Parameters(), tier)
	if err != nil {
		return err
	}
	if err := sender.SetParameters(params); err != nil {
		return fmt.Errorf("failed to set sender parameters: %w", err)
	}
	return nil
}
