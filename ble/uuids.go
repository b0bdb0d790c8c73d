package ble

// Standard big-endian UUID strings as BlueZ returns them in
// GetManagedObjects. bluetooth.UUID.String() outputs little-endian bytes and
// does NOT match these.
const (
	FitnessMachineServiceUUID = "00001826-0000-1000-8000-00805f9b34fb"
	IndoorBikeDataUUID        = "00002ad2-0000-1000-8000-00805f9b34fb"

	CSCServiceUUID     = "00001816-0000-1000-8000-00805f9b34fb"
	CSCMeasurementUUID = "00002a5b-0000-1000-8000-00805f9b34fb"

	CyclingPowerServiceUUID     = "00001818-0000-1000-8000-00805f9b34fb"
	CyclingPowerMeasurementUUID = "00002a63-0000-1000-8000-00805f9b34fb"
)

// KindForUUID maps a characteristic UUID (lowercase big-endian string) to
// the decode layout that applies to its notifications. Unknown UUIDs decode
// as Generic.
func KindForUUID(uuid string) CharacteristicKind {
	switch uuid {
	case IndoorBikeDataUUID:
		return IndoorBikeData
	case CSCMeasurementUUID:
		return CyclingSpeedCadence
	case CyclingPowerMeasurementUUID:
		return CyclingPower
	default:
		return Generic
	}
}
