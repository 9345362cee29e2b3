package hid

// Gamepad returns the report descriptor of one controller port: two
// signed 8-bit axes followed by eight buttons, 3 bytes per input report.
// Every port shares this descriptor; only endpoint addresses differ.
func Gamepad() Report {
	return Report{Items: []Item{
		UsagePage{UsagePageGenericDesktop},
		Usage{UsageGamePad},
		Collection{Kind: CollectionApplication, Items: []Item{
			UsagePage{UsagePageGenericDesktop},
			Usage{UsageX},
			Usage{UsageY},
			LogicalMinimum{-127},
			LogicalMaximum{127},
			ReportCount{2},
			ReportSize{8},
			Input{MainData | MainVar | MainAbs},
			UsagePage{UsagePageButton},
			UsageMinimum{1},
			UsageMaximum{8},
			LogicalMinimum{0},
			LogicalMaximum{1},
			ReportCount{8},
			ReportSize{1},
			Input{MainData | MainVar | MainAbs},
		}},
	}}
}

// GamepadBytes is the encoded form of Gamepad. The descriptor is static,
// so encoding happens once at init.
func GamepadBytes() []byte {
	return gamepadBytes
}

var gamepadBytes = func() []byte {
	b, err := Gamepad().Bytes()
	if err != nil {
		panic(err)
	}
	return []byte(b)
}()
