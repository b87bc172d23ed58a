package transport

// Transport-level feature bits.
const (
	FeatureRingIndirectDesc = uint64(1) << 28
	FeatureRingEventIdx     = uint64(1) << 29
	FeatureVersion1         = uint64(1) << 32
	FeatureAccessPlatform   = uint64(1) << 33
	FeatureRingPacked       = uint64(1) << 34
)

// bringupFeatures picks the coarse feature word accepted during the
// status handshake. Device drivers refine it later through
// NegotiateFeatures; this word is what FEATURES_OK latches against.
func bringupFeatures(t DeviceType, deviceFeatures uint64) uint64 {
	switch t {
	case Gpu:
		return 0b11
	case Network:
		return deviceFeatures & (FeatureVersion1 | FeatureRingIndirectDesc | FeatureRingEventIdx)
	case Block:
		return deviceFeatures & (FeatureVersion1 | FeatureRingIndirectDesc)
	case Scsi:
		return deviceFeatures & (FeatureVersion1 | FeatureRingIndirectDesc)
	case Console, Balloon, Input:
		return deviceFeatures & FeatureVersion1
	default:
		return 0
	}
}

// NegotiateFeatures intersects the device's feature vector with desired
// and writes the result as the driver features. Both sides are cached;
// calling it again with the same argument is a no-op on the wire state.
func (t *Transport) NegotiateFeatures(desired uint64) uint64 {
	t.deviceFeatures = t.common.ReadDeviceFeatures()
	t.driverFeatures = t.deviceFeatures & desired
	t.common.WriteDriverFeatures(t.driverFeatures)

	t.log.Trace("negotiated features",
		"device", t.devType,
		"offered", t.deviceFeatures,
		"desired", desired,
		"accepted", t.driverFeatures)

	return t.driverFeatures
}

// DeviceFeatures returns the feature vector read from the device at the
// last negotiation.
func (t *Transport) DeviceFeatures() uint64 {
	return t.deviceFeatures
}

// DriverFeatures returns the feature vector the driver last wrote.
func (t *Transport) DriverFeatures() uint64 {
	return t.driverFeatures
}

// FeatureSupported reports whether both sides carry the given bits.
func (t *Transport) FeatureSupported(feature uint64) bool {
	return t.deviceFeatures&feature != 0 && t.driverFeatures&feature != 0
}
