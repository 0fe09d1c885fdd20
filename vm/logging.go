package vm

import "github.com/tliron/commonlog"

var (
	log         = commonlog.GetLogger("gmvm.vm")
	dispatchLog = commonlog.GetLogger("gmvm.vm.dispatch")
)
