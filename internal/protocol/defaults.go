package protocol

// Defaults returns a fully populated bundle with factory settings for
// every mode. Each call returns a fresh copy that the caller may modify.
func Defaults() Bundle {
	return Bundle{
		ModeCPAP: {
			FieldSetPressure: Number(4.0),
		},
		ModeAutoCPAP: {
			FieldMinPressure: Number(4.0),
			FieldMaxPressure: Number(20.0),
		},
		ModeS: {
			FieldIPAP:        Number(6.0),
			FieldEPAP:        Number(4.0),
			FieldStartEPAP:   Number(4.0),
			FieldTiMin:       Number(0.2),
			FieldTiMax:       Number(3.0),
			FieldSensitivity: Number(1),
			FieldRiseTime:    Number(50),
		},
		ModeT: {
			FieldIPAP:            Number(6.0),
			FieldEPAP:            Number(4.0),
			FieldStartEPAP:       Number(4.0),
			FieldRespiratoryRate: Number(10),
			FieldTiMin:           Number(1.0),
			FieldTiMax:           Number(2.0),
			FieldSensitivity:     Number(1),
			FieldRiseTime:        Number(200),
		},
		ModeST: {
			FieldIPAP:        Number(6.0),
			FieldEPAP:        Number(4.0),
			FieldStartEPAP:   Number(4.0),
			FieldBackupRate:  Number(10),
			FieldTiMin:       Number(1.0),
			FieldTiMax:       Number(2.0),
			FieldSensitivity: Number(3),
			FieldRiseTime:    Number(200),
		},
		ModeVAPS: {
			FieldHeight:          Number(170),
			FieldTidalVolume:     Number(500),
			FieldMaxIPAP:         Number(20.0),
			FieldMinIPAP:         Number(10.0),
			FieldEPAP:            Number(5.0),
			FieldRespiratoryRate: Number(10),
			FieldTiMin:           Number(1.0),
			FieldTiMax:           Number(2.0),
			FieldRiseTime:        Number(200),
			FieldSensitivity:     Number(1),
		},
		ModeSettings: {
			FieldIMODE:      Text(FlagOff),
			FieldLeakAlert:  Text(FlagOff),
			FieldGender:     Text(GenderMale),
			FieldSleepMode:  Text(FlagOff),
			FieldMaskType:   Text(MaskNasal),
			FieldRampTime:   Number(5),
			FieldHumidifier: Number(1),
			FieldFlex:       Text(FlagOff),
			FieldFlexLevel:  Number(1),
		},
	}
}

func defaultValue(mode Mode, field string) (Value, bool) {
	return Defaults().Get(mode, field)
}
