package models

import "fmt"

// Proxy описывает SOCKS5-прокси, через который подключаются все клиенты Telegram.
type Proxy struct {
	IP       string `json:"ip" yaml:"ip" envconfig:"PROXY_IP"`
	Port     int    `json:"port" yaml:"port" envconfig:"PROXY_PORT"`
	Login    string `json:"login" yaml:"login" envconfig:"PROXY_LOGIN"`
	Password string `json:"password" yaml:"password" envconfig:"PROXY_PASSWORD"`
}

// Enabled сообщает, задан ли прокси.
func (p *Proxy) Enabled() bool {
	return p != nil && p.IP != "" && p.Port > 0
}

// Addr возвращает адрес прокси в виде host:port.
func (p *Proxy) Addr() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}
