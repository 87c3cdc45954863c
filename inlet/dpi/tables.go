// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package dpi

import (
	"fmt"
	"math/bits"
)

// protocolNames maps the metering process's protocol identifiers to
// lowercase labels. Identifiers absent from the table render as their
// decimal value.
var protocolNames = map[uint16]string{
	1:   "ftp_control",
	2:   "mail_pop",
	3:   "mail_smtp",
	4:   "mail_imap",
	5:   "dns",
	6:   "ipp",
	7:   "http",
	8:   "mdns",
	9:   "ntp",
	10:  "netbios",
	11:  "nfs",
	12:  "ssdp",
	13:  "bgp",
	14:  "snmp",
	15:  "xdmcp",
	16:  "smbv1",
	17:  "syslog",
	18:  "dhcp",
	19:  "postgres",
	20:  "mysql",
	37:  "bittorrent",
	64:  "ssdp_broadcast",
	65:  "irc",
	67:  "steam",
	70:  "tftp",
	77:  "telnet",
	78:  "stun",
	79:  "ipsec",
	81:  "icmp",
	82:  "igmp",
	88:  "rdp",
	89:  "vnc",
	91:  "tls",
	92:  "ssh",
	93:  "usenet",
	96:  "pptp",
	102: "kerberos",
	103: "ldap",
	116: "dhcpv6",
	119: "facebook",
	120: "twitter",
	124: "dropbox",
	125: "skype",
	126: "google",
	127: "dcerpc",
	128: "netflow",
	129: "sflow",
	131: "wsd",
	140: "apple",
	142: "whatsapp",
	145: "cloudflare",
	146: "amazon",
	153: "twitch",
	156: "instagram",
	157: "microsoft",
	159: "openvpn",
	169: "smbv23",
	178: "github",
	185: "slack",
	188: "quic",
	196: "capwap",
	198: "mqtt",
	211: "wireguard",
	212: "gquic",
	219: "netflix",
	220: "youtube",
	222: "mpegts",
	238: "signal",
	244: "spotify",
	245: "tor",
	252: "zoom",
}

// protocolCategories maps protocol identifiers to lowercase category
// labels. Identifiers absent from the table get "unknown". The vpn
// category drives the application id prefix.
var protocolCategories = map[uint16]string{
	1:   "download",
	2:   "email",
	3:   "email",
	4:   "email",
	5:   "network",
	6:   "system",
	7:   "web",
	8:   "network",
	9:   "system",
	10:  "system",
	11:  "data_transfer",
	12:  "system",
	13:  "network",
	14:  "network",
	15:  "remote_access",
	16:  "data_transfer",
	17:  "system",
	18:  "network",
	19:  "database",
	20:  "database",
	37:  "download",
	65:  "chat",
	67:  "game",
	70:  "data_transfer",
	77:  "remote_access",
	78:  "network",
	79:  "vpn",
	81:  "network",
	82:  "network",
	88:  "remote_access",
	89:  "remote_access",
	91:  "web",
	92:  "remote_access",
	93:  "download",
	96:  "vpn",
	102: "network",
	103: "system",
	116: "network",
	119: "social_network",
	120: "social_network",
	124: "cloud",
	125: "voip",
	126: "web",
	127: "rpc",
	128: "network",
	129: "network",
	131: "system",
	140: "web",
	142: "chat",
	145: "web",
	146: "cloud",
	153: "media",
	156: "social_network",
	157: "cloud",
	159: "vpn",
	169: "data_transfer",
	178: "collaborative",
	185: "collaborative",
	188: "web",
	196: "network",
	198: "iot",
	211: "vpn",
	212: "web",
	219: "media",
	220: "media",
	222: "media",
	238: "chat",
	244: "media",
	245: "vpn",
	252: "voip",
}

// riskInfo describes one bit of the risk bitmask.
type riskInfo struct {
	name  string
	score uint32
}

// riskTable maps risk bit positions to their name and score. Scores
// follow the signature engine's severity scale.
var riskTable = map[int]riskInfo{
	1:  {"url_possible_xss", 150},
	2:  {"url_possible_sql_injection", 150},
	3:  {"url_possible_rce_injection", 150},
	4:  {"binary_application_transfer", 150},
	5:  {"known_protocol_on_non_standard_port", 50},
	6:  {"tls_selfsigned_certificate", 100},
	7:  {"tls_obsolete_version", 100},
	8:  {"tls_weak_cipher", 100},
	9:  {"tls_certificate_expired", 100},
	10: {"tls_certificate_mismatch", 100},
	11: {"http_suspicious_user_agent", 50},
	12: {"numeric_ip_host", 10},
	13: {"http_suspicious_url", 100},
	14: {"http_suspicious_header", 50},
	15: {"tls_not_carrying_https", 10},
	16: {"suspicious_dga_domain", 100},
	17: {"malformed_packet", 10},
	18: {"ssh_obsolete_client", 50},
	19: {"ssh_obsolete_server", 50},
	20: {"smb_insecure_version", 100},
	21: {"tls_suspicious_esni_usage", 50},
	22: {"unsafe_protocol", 10},
	23: {"dns_suspicious_traffic", 100},
	24: {"tls_missing_sni", 10},
	25: {"http_suspicious_content", 100},
	26: {"risky_asn", 50},
	27: {"risky_domain", 50},
	28: {"malicious_fingerprint", 100},
	29: {"malicious_sha1_certificate", 100},
	30: {"desktop_or_file_sharing_session", 10},
	31: {"tls_uncommon_alpn", 10},
	32: {"tls_cert_validity_too_long", 50},
	33: {"tls_suspicious_extension", 100},
	34: {"tls_fatal_alert", 10},
	35: {"suspicious_entropy", 50},
	36: {"clear_text_credentials", 100},
	37: {"dns_large_packet", 10},
	38: {"dns_fragmented", 10},
	39: {"invalid_characters", 100},
	40: {"possible_exploit", 150},
	41: {"tls_certificate_about_to_expire", 10},
	42: {"punycode_idn", 10},
	43: {"error_code_detected", 10},
	44: {"http_crawler_bot", 10},
	45: {"anonymous_subscriber", 50},
	46: {"unidirectional_traffic", 10},
	47: {"http_obsolete_server", 50},
	48: {"periodic_flow", 10},
	49: {"minor_issues", 10},
	50: {"tcp_issues", 50},
}

// protocolName returns the label for one protocol identifier.
func (c *Component) protocolName(id uint16) string {
	if name, ok := protocolNames[id]; ok {
		return name
	}
	c.metrics.unknownProtocol.Inc()
	return fmt.Sprintf("%d", id)
}

// AppID returns the application id for a master/sub protocol pair. A
// pair with distinct non-zero identifiers renders dotted, master
// first, the way the signature engine names tunneled applications.
func (c *Component) AppID(master, sub uint16) string {
	switch {
	case master == sub || sub == 0:
		return c.protocolName(master)
	case master == 0:
		return c.protocolName(sub)
	default:
		return c.protocolName(master) + "." + c.protocolName(sub)
	}
}

// Category returns the category label for a master/sub protocol pair.
// The sub protocol's category wins when known, matching the signature
// engine's preference for the most specific classification.
func (c *Component) Category(master, sub uint16) string {
	if sub != 0 {
		if category, ok := protocolCategories[sub]; ok {
			return category
		}
	}
	if category, ok := protocolCategories[master]; ok {
		return category
	}
	return "unknown"
}

// CategoryVPN is the category whose flows get a vpn. application id
// prefix.
const CategoryVPN = "vpn"

// RiskScore sums the per-bit scores of a risk bitmask.
func (c *Component) RiskScore(riskBits uint64) uint32 {
	var score uint32
	for riskBits != 0 {
		bit := bits.TrailingZeros64(riskBits)
		riskBits &^= 1 << bit
		if info, ok := riskTable[bit]; ok {
			score += info.score
		}
	}
	return score
}

// RiskNames lists the set risk bits by name, lowest bit first.
// Unnamed bits render as their position.
func (c *Component) RiskNames(riskBits uint64) []string {
	names := []string{}
	for riskBits != 0 {
		bit := bits.TrailingZeros64(riskBits)
		riskBits &^= 1 << bit
		if info, ok := riskTable[bit]; ok {
			names = append(names, info.name)
		} else {
			names = append(names, fmt.Sprintf("%d", bit))
		}
	}
	return names
}

// RiskSeverity buckets a risk score.
func (c *Component) RiskSeverity(score uint32) uint8 {
	switch {
	case score >= 250:
		return 6
	case score >= 200:
		return 5
	case score >= 150:
		return 4
	case score >= 100:
		return 3
	case score >= 50:
		return 2
	case score >= 10:
		return 1
	default:
		return 0
	}
}
