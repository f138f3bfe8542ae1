package responder

var fallbackMessages = map[string]string{
	"en": "Thanks for your message. I couldn't find an answer right away, but our team will get back to you shortly.",
	"es": "Gracias por tu mensaje. No encontré una respuesta de inmediato, pero nuestro equipo te responderá en breve.",
	"fr": "Merci pour votre message. Je n'ai pas trouvé de réponse immédiate, mais notre équipe vous répondra rapidement.",
	"de": "Danke für Ihre Nachricht. Ich habe nicht sofort eine Antwort gefunden, aber unser Team meldet sich in Kürze.",
	"pt": "Obrigado pela sua mensagem. Não encontrei uma resposta imediata, mas nossa equipe retornará em breve.",
}

var queueMessages = map[string]string{
	"en": "All of our agents are busy right now. You're in the queue and the next available agent will join this chat.",
	"es": "Todos nuestros agentes están ocupados. Estás en la cola y el próximo agente disponible se unirá a este chat.",
	"fr": "Tous nos agents sont occupés. Vous êtes dans la file d'attente et le prochain agent disponible rejoindra cette conversation.",
	"de": "Alle Mitarbeiter sind gerade beschäftigt. Sie sind in der Warteschlange und der nächste freie Mitarbeiter übernimmt diesen Chat.",
	"pt": "Todos os nossos agentes estão ocupados. Você está na fila e o próximo agente disponível entrará nesta conversa.",
}

var connectingMessages = map[string]string{
	"en": "Connecting you to an agent. They will be with you in a moment.",
	"es": "Te estamos conectando con un agente. Estará contigo en un momento.",
	"fr": "Nous vous mettons en relation avec un agent. Il sera avec vous dans un instant.",
	"de": "Wir verbinden Sie mit einem Mitarbeiter. Er ist gleich für Sie da.",
	"pt": "Estamos conectando você a um agente. Ele estará com você em instantes.",
}
