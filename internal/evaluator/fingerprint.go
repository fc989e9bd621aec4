package evaluator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint 报警条件指纹
// (tenant_id, device_id, alert_type, rule_id) 的确定性哈希：
// 相同条件永远得到相同指纹，保证同指纹至多一条 OPEN 报警。
// 字段带长度前缀编码，边界不同的输入不会撞出同一指纹
func Fingerprint(tenantID, deviceID, alertType, ruleID string) string {
	h := sha256.New()
	for _, field := range []string{tenantID, deviceID, alertType, ruleID} {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	return hex.EncodeToString(h.Sum(nil))
}
