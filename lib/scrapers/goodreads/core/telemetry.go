package core

import (
	"godric-backend/lib/restyutil"
	"godric-backend/lib/telemetry"
)

var tracer = telemetry.Tracer("godric.lib.scrapers.goodreads.core")
var restyInstrumentOutput restyutil.InstrumentOutput

func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}
