// Package protocol defines the length-framed JSON envelopes exchanged between
// clients and the socket transport server.
package protocol

import (
	"time"

	"geochat/go-geochat-server/internal/model"
)

// Client to server message tags.
const (
	TypeConnect        = "connect"
	TypeUpdateLocation = "update_location"
	TypeSendMessage    = "send_message"
	TypeListUsers      = "listar_usuarios"
)

// Server to client message tags.
const (
	TypeConnectionAccepted = "connexao_aceita"
	TypeLocationUpdated    = "localizacao_atualizada"
	TypeMessageSent        = "mensagem_enviada"
	TypeMessageReceived    = "mensagem_recebida"
	TypeUserList           = "lista_usuarios"
	TypeError              = "erro"
	// TypeLocationBroadcast forwards a proximity broadcast from the queued
	// path to a live connection. The tag matches the broker payload.
	TypeLocationBroadcast = "atualizacao_localizacao"
)

// ConnectUser carries the participant identity presented on connect.
type ConnectUser struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"`
	Status    string  `json:"status"`
}

// UserSummary describes one participant in a lista_usuarios reply. The
// distance and radius check are computed relative to the requester.
type UserSummary struct {
	Nome      string  `json:"nome"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Status    string  `json:"status"`
	Distancia float64 `json:"distancia"`
	NoRaio    bool    `json:"no_raio"`
}

// LocationInfo is the participant object embedded in a proximity broadcast.
// Field names follow the broker payload contract.
type LocationInfo struct {
	Nome            string  `json:"nome"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	RaioComunicacao float64 `json:"raio_comunicacao"`
	Status          string  `json:"status"`
}

// Envelope is the single wire message shape for both directions. Unused
// fields are omitted from the encoded form.
type Envelope struct {
	Tipo         string        `json:"tipo"`
	User         *ConnectUser  `json:"user,omitempty"`
	Latitude     *float64      `json:"latitude,omitempty"`
	Longitude    *float64      `json:"longitude,omitempty"`
	Destinatario string        `json:"destinatario,omitempty"`
	Conteudo     string        `json:"conteudo,omitempty"`
	Remetente    string        `json:"remetente,omitempty"`
	Mensagem     string        `json:"mensagem,omitempty"`
	Usuario      *LocationInfo `json:"usuario,omitempty"`
	Usuarios     []UserSummary `json:"usuarios,omitempty"`
	Timestamp    string        `json:"timestamp,omitempty"`
}

// Now returns the timestamp format used on every envelope.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NewError builds an erro envelope with the supplied human-readable message.
func NewError(msg string) Envelope {
	return Envelope{Tipo: TypeError, Mensagem: msg, Timestamp: Now()}
}

// NewAck builds a confirmation envelope of the given type.
func NewAck(tipo, msg string) Envelope {
	return Envelope{Tipo: tipo, Mensagem: msg, Timestamp: Now()}
}

// NewMessageReceived builds the envelope forwarded to a recipient on live delivery.
func NewMessageReceived(sender, content string) Envelope {
	return Envelope{
		Tipo:      TypeMessageReceived,
		Remetente: sender,
		Conteudo:  content,
		Timestamp: Now(),
	}
}

// NewLocationBroadcast builds the envelope forwarding a proximity broadcast
// to a live connection.
func NewLocationBroadcast(info LocationInfo) Envelope {
	return Envelope{Tipo: TypeLocationBroadcast, Usuario: &info, Timestamp: Now()}
}

// NewUserList builds a lista_usuarios reply.
func NewUserList(users []UserSummary) Envelope {
	return Envelope{Tipo: TypeUserList, Usuarios: users, Timestamp: Now()}
}

// NewConnect builds the envelope a client sends to authenticate.
func NewConnect(p model.Participant) Envelope {
	return Envelope{
		Tipo: TypeConnect,
		User: &ConnectUser{
			Name:      p.Name,
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Radius:    p.Radius,
			Status:    string(p.Status),
		},
		Timestamp: Now(),
	}
}

// NewUpdateLocation builds a location update request.
func NewUpdateLocation(lat, lon float64) Envelope {
	return Envelope{
		Tipo:      TypeUpdateLocation,
		Latitude:  &lat,
		Longitude: &lon,
		Timestamp: Now(),
	}
}

// NewSendMessage builds a live delivery request.
func NewSendMessage(recipient, content string) Envelope {
	return Envelope{
		Tipo:         TypeSendMessage,
		Destinatario: recipient,
		Conteudo:     content,
		Timestamp:    Now(),
	}
}
