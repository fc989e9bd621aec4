package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// 企业私有 OID 前缀下的报警字段
const (
	oidTrapBase     = ".1.3.6.1.4.1.99999.1"
	oidAlertID      = oidTrapBase + ".1"
	oidAlertType    = oidTrapBase + ".2"
	oidAlertSeverity = oidTrapBase + ".3"
	oidDeviceID     = oidTrapBase + ".4"
	oidAlertMessage = oidTrapBase + ".5"
)

type snmpConf struct {
	Target    string `json:"target"`
	Port      uint16 `json:"port"`
	Version   string `json:"version"` // "2c" 或 "3"
	Community string `json:"community"`

	// v3 参数
	SecurityName string `json:"security_name"`
	AuthProtocol string `json:"auth_protocol"` // SHA / MD5
	AuthPassword string `json:"auth_password"`
	PrivProtocol string `json:"priv_protocol"` // AES / DES
	PrivPassword string `json:"priv_password"`
}

// SNMPSender SNMP trap 投递（v2c / v3）
type SNMPSender struct {
	timeout time.Duration
}

// NewSNMPSender 创建 SNMP 适配器
func NewSNMPSender(timeout time.Duration) *SNMPSender {
	return &SNMPSender{timeout: timeout}
}

func (s *SNMPSender) Name() string {
	return models.ChannelSNMP
}

func (s *SNMPSender) Send(ctx context.Context, conf json.RawMessage, event *models.NotificationEvent) error {
	var c snmpConf
	if err := json.Unmarshal(conf, &c); err != nil {
		return fmt.Errorf("invalid snmp config: %w", err)
	}
	if c.Target == "" {
		return fmt.Errorf("snmp config missing target")
	}
	if c.Port == 0 {
		c.Port = 162
	}

	client, err := s.buildClient(&c)
	if err != nil {
		return err
	}
	client.Context = ctx

	if err := client.Connect(); err != nil {
		return fmt.Errorf("snmp connect failed: %w", err)
	}
	defer client.Conn.Close()

	trap := gosnmp.SnmpTrap{
		Variables: []gosnmp.SnmpPDU{
			{Name: oidAlertID, Type: gosnmp.OctetString, Value: event.AlertID},
			{Name: oidAlertType, Type: gosnmp.OctetString, Value: event.AlertType},
			{Name: oidAlertSeverity, Type: gosnmp.Integer, Value: event.Severity},
			{Name: oidDeviceID, Type: gosnmp.OctetString, Value: event.DeviceID},
			{Name: oidAlertMessage, Type: gosnmp.OctetString, Value: event.Message},
		},
	}

	if _, err := client.SendTrap(trap); err != nil {
		return fmt.Errorf("snmp trap send failed: %w", err)
	}

	return nil
}

// buildClient 按版本构造 gosnmp 客户端
func (s *SNMPSender) buildClient(c *snmpConf) (*gosnmp.GoSNMP, error) {
	client := &gosnmp.GoSNMP{
		Target:  c.Target,
		Port:    c.Port,
		Timeout: s.timeout,
		Retries: 1,
	}

	switch c.Version {
	case "", "2c":
		client.Version = gosnmp.Version2c
		client.Community = c.Community
		if client.Community == "" {
			client.Community = "public"
		}
	case "3":
		client.Version = gosnmp.Version3
		client.SecurityModel = gosnmp.UserSecurityModel
		client.MsgFlags = gosnmp.AuthPriv
		usm := &gosnmp.UsmSecurityParameters{
			UserName:                 c.SecurityName,
			AuthenticationPassphrase: c.AuthPassword,
			PrivacyPassphrase:        c.PrivPassword,
		}
		switch c.AuthProtocol {
		case "MD5":
			usm.AuthenticationProtocol = gosnmp.MD5
		default:
			usm.AuthenticationProtocol = gosnmp.SHA
		}
		switch c.PrivProtocol {
		case "DES":
			usm.PrivacyProtocol = gosnmp.DES
		default:
			usm.PrivacyProtocol = gosnmp.AES
		}
		client.SecurityParameters = usm
	default:
		return nil, fmt.Errorf("unsupported snmp version %q", c.Version)
	}

	return client, nil
}
