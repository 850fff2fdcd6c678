package heirkeep

import (
	"github.com/heirkeep/heirkeep/common"
)

var log = common.NewLog("heirkeep")
