package poller

// ctlOp 是 readiness-set 后端完成一次迁移所需的唯一调用。
type ctlOp int

const (
	opNone ctlOp = iota
	opAdd
	opMod
	opDel
)

func (o ctlOp) String() string {
	switch o {
	case opAdd:
		return "add"
	case opMod:
		return "mod"
	case opDel:
		return "del"
	}
	return "none"
}

// readinessOp 为 old -> mask 选择合并注册调用。
func readinessOp(old, mask Interest) ctlOp {
	switch {
	case old == mask:
		return opNone
	case old == None:
		return opAdd
	case mask == None:
		return opDel
	default:
		return opMod
	}
}

// filter 是 edge-list 后端中一个独立的方向。
type filter uint8

const (
	readFilter filter = iota
	writeFilter
)

func (f filter) String() string {
	if f == readFilter {
		return "read"
	}
	return "write"
}

// filterChange 添加或删除一个 filter。
type filterChange struct {
	filter filter
	add    bool
}

// filterChanges 列出 old -> mask 的逐方向变更，每个 filter 至多一条，读在前。
func filterChanges(old, mask Interest) []filterChange {
	var out []filterChange
	if d := (old ^ mask) & Readable; d != 0 {
		out = append(out, filterChange{filter: readFilter, add: mask&Readable != 0})
	}
	if d := (old ^ mask) & Writable; d != 0 {
		out = append(out, filterChange{filter: writeFilter, add: mask&Writable != 0})
	}
	return out
}

// mergeEvent 把 ev 追加到 events[:n]；若已有同一 token 的事件则合并
// Ready 与 Failed。返回新的长度。批量很小，线性查找即可。
func mergeEvent(events []Event, n int, ev Event) int {
	for i := n - 1; i >= 0; i-- {
		if events[i].Token == ev.Token {
			events[i].Ready |= ev.Ready
			events[i].Failed = events[i].Failed || ev.Failed
			return n
		}
	}
	events[n] = ev
	return n + 1
}
