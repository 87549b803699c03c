package asyncdelivery

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"geochat/go-geochat-server/internal/model"
	"geochat/go-geochat-server/internal/protocol"
	"geochat/go-geochat-server/internal/routing"
)

// Payload type tags.
const (
	TypeAsyncMessage   = "mensagem_assincrona"
	TypeLocationUpdate = "atualizacao_localizacao"
)

// AsyncMessage is the queued chat payload published to the direct exchange.
type AsyncMessage struct {
	Tipo         string `json:"tipo"`
	Remetente    string `json:"remetente"`
	Destinatario string `json:"destinatario"`
	Conteudo     string `json:"conteudo"`
	Motivo       string `json:"motivo"`
	Timestamp    string `json:"timestamp"`
}

// LocationUpdate is the proximity broadcast payload published to the fanout
// exchange.
type LocationUpdate struct {
	Tipo      string                `json:"tipo"`
	Usuario   protocol.LocationInfo `json:"usuario"`
	Timestamp string                `json:"timestamp"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// PublishMessage queues a chat message for the recipient. The message is
// marked persistent so it survives a broker restart while its queue exists.
func (s *Subsystem) PublishMessage(ctx context.Context, sender, recipient, content string, reason routing.Reason) error {
	msg := AsyncMessage{
		Tipo:         TypeAsyncMessage,
		Remetente:    sender,
		Destinatario: recipient,
		Conteudo:     content,
		Motivo:       string(reason),
		Timestamp:    timestamp(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return brokerErr("encode async message", err)
	}

	err = s.ch.PublishWithContext(ctx, MessagesExchange, recipient, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return brokerErr("publish async message", err)
	}

	s.logger.Info("queued async message", "sender", sender, "recipient", recipient, "reason", reason)
	return nil
}

// PublishLocation broadcasts a participant's location to every bound queue.
func (s *Subsystem) PublishLocation(ctx context.Context, p model.Participant) error {
	upd := LocationUpdate{
		Tipo: TypeLocationUpdate,
		Usuario: protocol.LocationInfo{
			Nome:            p.Name,
			Latitude:        p.Latitude,
			Longitude:       p.Longitude,
			RaioComunicacao: p.Radius,
			Status:          string(p.Status),
		},
		Timestamp: timestamp(),
	}

	body, err := json.Marshal(upd)
	if err != nil {
		return brokerErr("encode location update", err)
	}

	err = s.ch.PublishWithContext(ctx, LocationExchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return brokerErr("publish location update", err)
	}

	s.logger.Debug("published location broadcast", "participant", p.Name)
	return nil
}
