// ABOUTME: Processor tuning and user-facing message catalogue
// ABOUTME: Defaults cover the voice trigger phrase, TTS cooldown and document triggers

package processor

import (
	"time"

	"github.com/2389/reclama-gateway/internal/retry"
)

const (
	// DefaultVoiceTrigger marks replies that confirm a registered claim.
	DefaultVoiceTrigger = "tu reclamación ha sido registrada"

	// DefaultTTSCooldown is the minimum gap between two voice replies.
	DefaultTTSCooldown = 30 * time.Second
)

// DefaultDocumentTriggers are matched case-insensitively as substrings.
var DefaultDocumentTriggers = []string{
	"quiero el documento",
	"generar documento",
	"genera el documento",
	"necesito el documento",
	"redacta la reclamación",
	"quiero la reclamación",
}

// Messages are the texts the gateway sends on its own behalf.
type Messages struct {
	Welcome           string `yaml:"welcome" toml:"welcome"`
	ResetNotice       string `yaml:"reset_notice" toml:"reset_notice"`
	TextApology       string `yaml:"text_apology" toml:"text_apology"`
	VoiceApology      string `yaml:"voice_apology" toml:"voice_apology"`
	AudioReceived     string `yaml:"audio_received" toml:"audio_received"`
	TranscriptionEcho string `yaml:"transcription_echo" toml:"transcription_echo"` // fmt verb %s receives the text
	DescribeCaseFirst string `yaml:"describe_case_first" toml:"describe_case_first"`
	DocumentApology   string `yaml:"document_apology" toml:"document_apology"`
	DocumentReceived  string `yaml:"document_received" toml:"document_received"`
	EmailSubject      string `yaml:"email_subject" toml:"email_subject"`
}

// DefaultMessages returns the Spanish message catalogue.
func DefaultMessages() Messages {
	return Messages{
		Welcome:           "¡Hola! Soy tu asistente de reclamaciones. Cuéntame qué problema has tenido con tu compañía de luz, agua, gas, teléfono o internet, o con tu vuelo, y te ayudo a reclamar.",
		ResetNotice:       "He reiniciado la conversación. Cuéntame de nuevo tu problema cuando quieras.",
		TextApology:       "Lo siento, ha ocurrido un error al procesar tu mensaje. Inténtalo de nuevo en unos minutos.",
		VoiceApology:      "Lo siento, no he podido procesar tu mensaje de voz. ¿Puedes repetirlo o escribirme?",
		AudioReceived:     "He recibido tu mensaje de voz, lo estoy procesando...",
		TranscriptionEcho: "Esto es lo que he entendido: \"%s\"",
		DescribeCaseFirst: "Antes de generar el documento necesito que me cuentes tu caso.",
		DocumentApology:   "Lo siento, no he podido generar el documento. Inténtalo de nuevo más tarde.",
		DocumentReceived:  "He recibido tu documento, lo tendremos en cuenta para tu reclamación.",
		EmailSubject:      "Tu reclamación",
	}
}

// Config tunes the processor. Zero fields take defaults in New.
type Config struct {
	VoiceTrigger     string
	TTSCooldown      time.Duration
	DocumentTriggers []string
	// MaxAttempts is the retry budget. The voice apology is sent once per
	// message, when the last attempt fails, the failure is permanent or the
	// caller calls GiveUp.
	MaxAttempts int
	Messages    Messages
}

func (c Config) withDefaults() Config {
	if c.VoiceTrigger == "" {
		c.VoiceTrigger = DefaultVoiceTrigger
	}
	if c.TTSCooldown <= 0 {
		c.TTSCooldown = DefaultTTSCooldown
	}
	if len(c.DocumentTriggers) == 0 {
		c.DocumentTriggers = DefaultDocumentTriggers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = retry.DefaultMaxAttempts
	}
	def := DefaultMessages()
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&c.Messages.Welcome, def.Welcome)
	fill(&c.Messages.ResetNotice, def.ResetNotice)
	fill(&c.Messages.TextApology, def.TextApology)
	fill(&c.Messages.VoiceApology, def.VoiceApology)
	fill(&c.Messages.AudioReceived, def.AudioReceived)
	fill(&c.Messages.TranscriptionEcho, def.TranscriptionEcho)
	fill(&c.Messages.DescribeCaseFirst, def.DescribeCaseFirst)
	fill(&c.Messages.DocumentApology, def.DocumentApology)
	fill(&c.Messages.DocumentReceived, def.DocumentReceived)
	fill(&c.Messages.EmailSubject, def.EmailSubject)
	return c
}
