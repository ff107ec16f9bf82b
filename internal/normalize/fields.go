package normalize

// Ordered fallback lists per logical field. Lookup ignores case and the
// separators '_', '-' and ' ', so "serial_number" also matches "SerialNumber".
var (
	imeiFields          = []string{"imei", "imei1", "deviceImei", "serialNumber", "serial"}
	brandFields         = []string{"brand", "manufacturer", "make"}
	modelFields         = []string{"model", "modelName", "deviceModel", "deviceName", "name"}
	modelNumberFields   = []string{"modelNumber", "modelNo", "partNumber"}
	storageFields       = []string{"storage", "capacity", "memory", "storageSize"}
	colorFields         = []string{"color", "colour", "deviceColor"}
	carrierFields       = []string{"carrier", "network", "carrierName", "lockStatus"}
	workingFlagFields   = []string{"working", "isWorking", "passed"}
	failedFlagFields    = []string{"failed", "isFailed", "failures"}
	workingStatusFields = []string{"workingStatus", "status", "testResult", "result"}
	batteryFields       = []string{"batteryHealth", "battery", "batteryHealthPercentage"}
	gradeFields         = []string{"conditionGrade", "grade", "cosmeticGrade"}
	notesFields         = []string{"notes", "description", "comments", "remarks"}
	testedAtFields      = []string{"testedAt", "testDate", "testTime", "date"}
	reportedAtFields    = []string{"reportedAt", "createdAt", "timestamp", "updatedAt"}
)

var (
	passTokens = map[string]struct{}{
		"YES": {}, "Y": {}, "PASS": {}, "PASSED": {}, "TRUE": {}, "1": {}, "WORKING": {},
	}
	failTokens = map[string]struct{}{
		"NO": {}, "N": {}, "FAIL": {}, "FAILED": {}, "FALSE": {}, "0": {}, "NOT WORKING": {}, "BROKEN": {},
	}
)
