package model

// Process-wide constants fixed by the firmware interface (spec §6).
const (
	NumApplications                 = 1024
	PowerClassBits                  = 4
	DestinationMaskBits             = 16
	NumDestinations                 = 16
	AnalogMaxIntegratorsPerChannel  = 4
	AnalogIntegratorSize            = 8
	NumBeamClasses                  = 16
	DigitalChannelsPerCard          = 64
	AnalogChannelsPerCard           = 6
	AnalogThresholdsPerIntegrator   = 8
	DigitalConfigBitsPerChannel     = 21
	DigitalConfigSliceBits          = DigitalChannelsPerCard * DigitalConfigBitsPerChannel // 1344
	AnalogConfigPowerClassWords     = AnalogChannelsPerCard * AnalogMaxIntegratorsPerChannel * AnalogThresholdsPerIntegrator
	AnalogConfigDestinationMaskWords = AnalogChannelsPerCard * AnalogMaxIntegratorsPerChannel
	ConfigSliceBits                 = 2048

	// UpdateSliceBits is one card's share of the firmware update buffer:
	// 192 was-low bits followed by 192 was-high bits (spec §6).
	UpdateSliceBits = 384
)
